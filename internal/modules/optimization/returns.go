package optimization

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

// minAssets is the smallest basket a covariance matrix is estimated for
const minAssets = 2

// ReturnSeriesBuilder turns provider price histories into aligned simple returns.
type ReturnSeriesBuilder struct {
	minObservations int
	log             zerolog.Logger
}

// NewReturnSeriesBuilder creates a builder that rejects fewer than minObservations
// aligned return rows. Values below 2 are raised to 2.
func NewReturnSeriesBuilder(minObservations int, log zerolog.Logger) *ReturnSeriesBuilder {
	if minObservations < 2 {
		minObservations = 2
	}
	return &ReturnSeriesBuilder{
		minObservations: minObservations,
		log:             log.With().Str("component", "returns").Logger(),
	}
}

// Build aligns the requested assets on common dates and computes simple returns.
//
// Steps:
//  1. Every requested asset must have a series (provider-reported gaps are insufficient data)
//  2. Non-positive or non-finite prices are treated as missing values
//  3. Prices are inner-joined on calendar date (UTC)
//  4. r[t] = p[t]/p[t-1] - 1; the first aligned row has no return and is dropped
func (b *ReturnSeriesBuilder) Build(assets []string, history *domain.PriceHistory) (*ReturnMatrix, error) {
	if len(assets) < minAssets {
		return nil, &InsufficientDataError{
			Reason:   fmt.Sprintf("need at least %d assets, got %d", minAssets, len(assets)),
			Required: minAssets,
		}
	}
	return b.build(assets, history)
}

// build is Build without the asset-count check, so single-asset callers can still
// measure their series.
func (b *ReturnSeriesBuilder) build(assets []string, history *domain.PriceHistory) (*ReturnMatrix, error) {
	if history == nil {
		history = domain.NewPriceHistory()
	}

	missing := make(map[string]string)
	for _, asset := range assets {
		if reason, ok := history.Missing[asset]; ok {
			missing[asset] = reason
			continue
		}
		if len(history.Series[asset]) == 0 {
			missing[asset] = "no price data returned"
		}
	}
	if len(missing) > 0 {
		return nil, &InsufficientDataError{
			Reason:   fmt.Sprintf("%d of %d assets have no price data", len(missing), len(assets)),
			Required: len(assets),
			Missing:  missing,
		}
	}

	dates, prices := alignPrices(assets, history.Series)

	rows := len(dates) - 1
	if rows < b.minObservations {
		if rows < 0 {
			rows = 0
		}
		return nil, &InsufficientDataError{
			Reason:       fmt.Sprintf("only %d aligned return observations, need %d", rows, b.minObservations),
			Observations: rows,
			Required:     b.minObservations,
		}
	}

	data := mat.NewDense(rows, len(assets), nil)
	for t := 1; t <= rows; t++ {
		for j := range assets {
			data.Set(t-1, j, prices[t][j]/prices[t-1][j]-1)
		}
	}

	b.log.Debug().
		Int("assets", len(assets)).
		Int("observations", rows).
		Time("start", dates[0]).
		Time("end", dates[len(dates)-1]).
		Msg("Built aligned return matrix")

	return &ReturnMatrix{
		Assets: append([]string(nil), assets...),
		Dates:  dates[1:],
		Data:   data,
	}, nil
}

// alignPrices inner-joins the series on calendar date.
// Returned rows are ordered by date; columns follow assets.
func alignPrices(assets []string, series map[string]domain.PriceSeries) ([]time.Time, [][]float64) {
	type dayKey struct {
		y int
		m time.Month
		d int
	}
	keyOf := func(t time.Time) dayKey {
		u := t.UTC()
		return dayKey{u.Year(), u.Month(), u.Day()}
	}

	// Per-asset lookup of valid prices by day
	byDay := make([]map[dayKey]float64, len(assets))
	for j, asset := range assets {
		m := make(map[dayKey]float64, len(series[asset]))
		for _, p := range series[asset] {
			if !(p.Price > 0) || math.IsInf(p.Price, 0) {
				continue
			}
			m[keyOf(p.Date)] = p.Price
		}
		byDay[j] = m
	}

	// Walk the first asset's series in date order; it defines the candidate dates
	first := append(domain.PriceSeries(nil), series[assets[0]]...).Sort()

	var dates []time.Time
	var prices [][]float64
	for _, p := range first {
		k := keyOf(p.Date)
		row := make([]float64, len(assets))
		complete := true
		for j := range assets {
			v, ok := byDay[j][k]
			if !ok {
				complete = false
				break
			}
			row[j] = v
		}
		if !complete {
			continue
		}
		if n := len(dates); n > 0 && keyOf(dates[n-1]) == k {
			prices[n-1] = row
			continue
		}
		dates = append(dates, time.Date(k.y, k.m, k.d, 0, 0, 0, 0, time.UTC))
		prices = append(prices, row)
	}

	return dates, prices
}
