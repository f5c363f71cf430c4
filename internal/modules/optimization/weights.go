package optimization

import (
	"sort"

	"github.com/shopspring/decimal"
)

const (
	// CleanWeightsCutoff zeroes allocations too small to act on
	CleanWeightsCutoff = 1e-4
	// CleanWeightsPlaces is the number of decimals cleaned weights are rounded to
	CleanWeightsPlaces = 5
)

// CleanWeights zeroes weights below the cutoff and rounds the rest to a fixed number of
// decimals. The rounding residual is assigned to the largest weight so the result
// still sums to exactly one (at the rounded precision).
//
// This differs from pypfopt's clean_weights, which only applies the cutoff and rounds.
// There the weights left after the cutoff are not re-normalized, so their sum can drift
// from one. Here they are, so cleaned values can differ from pypfopt's in the last
// decimal and around the largest weight.
func CleanWeights(weights WeightVector, cutoff float64, places int32) WeightVector {
	assets := make([]string, 0, len(weights))
	for a := range weights {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	cut := decimal.NewFromFloat(cutoff)
	cleaned := make(map[string]decimal.Decimal, len(weights))
	total := decimal.Zero
	for _, a := range assets {
		w := decimal.NewFromFloat(weights[a])
		if w.Abs().LessThan(cut) {
			w = decimal.Zero
		}
		cleaned[a] = w
		total = total.Add(w)
	}

	out := make(WeightVector, len(weights))
	if total.IsZero() {
		for _, a := range assets {
			out[a] = 0
		}
		return out
	}

	largest := ""
	for _, a := range assets {
		if largest == "" || cleaned[a].GreaterThan(cleaned[largest]) {
			largest = a
		}
	}

	sum := decimal.Zero
	for _, a := range assets {
		w := cleaned[a].Div(total).Round(places)
		cleaned[a] = w
		sum = sum.Add(w)
	}
	cleaned[largest] = cleaned[largest].Add(decimal.NewFromInt(1).Sub(sum))

	for _, a := range assets {
		out[a] = cleaned[a].InexactFloat64()
	}
	return out
}
