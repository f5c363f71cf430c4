package testing

import (
	"math"
	"time"

	"github.com/aristath/frontier/internal/domain"
)

// FixtureStart is the first session of every fixture series
var FixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SeriesSpec describes a synthetic daily price path:
// each return is Drift + Amplitude*sin(t*Frequency + Phase).
type SeriesSpec struct {
	Days      int
	Start     float64
	Drift     float64
	Amplitude float64
	Frequency float64
	Phase     float64
}

// Series builds the price path starting at FixtureStart
func (s SeriesSpec) Series() domain.PriceSeries {
	out := make(domain.PriceSeries, s.Days)
	price := s.Start
	for t := 0; t < s.Days; t++ {
		if t > 0 {
			price *= 1 + s.Drift + s.Amplitude*math.Sin(float64(t)*s.Frequency+s.Phase)
		}
		out[t] = domain.PricePoint{Date: FixtureStart.AddDate(0, 0, t), Price: price}
	}
	return out
}

// NewPriceFixtures returns 120 sessions for each default asset.
// The paths are smooth and positively drifting, so max-Sharpe is feasible at small
// risk-free rates.
func NewPriceFixtures() map[string]domain.PriceSeries {
	specs := map[string]SeriesSpec{
		"AAPL":    {Days: 120, Start: 150, Drift: 0.0010, Amplitude: 0.012, Frequency: 0.7, Phase: 0.0},
		"MSFT":    {Days: 120, Start: 300, Drift: 0.0008, Amplitude: 0.009, Frequency: 1.3, Phase: 1.0},
		"GOOG":    {Days: 120, Start: 120, Drift: 0.0006, Amplitude: 0.015, Frequency: 0.4, Phase: 2.0},
		"TSLA":    {Days: 120, Start: 250, Drift: 0.0012, Amplitude: 0.025, Frequency: 0.9, Phase: 1.5},
		"BTC-USD": {Days: 120, Start: 40000, Drift: 0.0020, Amplitude: 0.030, Frequency: 2.1, Phase: 0.5},
	}

	out := make(map[string]domain.PriceSeries, len(specs))
	for asset, spec := range specs {
		out[asset] = spec.Series()
	}
	return out
}
