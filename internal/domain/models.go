// Package domain provides core domain models and types.
package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// PricePoint is one daily adjusted close
type PricePoint struct {
	Date  time.Time `json:"date" msgpack:"d"`
	Price float64   `json:"price" msgpack:"p"`
}

// PriceSeries is an ordered daily price history for a single asset.
// Dates are strictly increasing and every price is positive.
type PriceSeries []PricePoint

// Validate checks the ordering and positivity invariants
func (s PriceSeries) Validate() error {
	for i, p := range s {
		if !(p.Price > 0) || math.IsInf(p.Price, 0) {
			return fmt.Errorf("non-positive or non-finite price %v on %s", p.Price, p.Date.Format("2006-01-02"))
		}
		if i > 0 && !p.Date.After(s[i-1].Date) {
			return fmt.Errorf("dates not strictly increasing at %s", p.Date.Format("2006-01-02"))
		}
	}
	return nil
}

// Sort orders the series by date and drops duplicate dates, keeping the last price seen
func (s PriceSeries) Sort() PriceSeries {
	sort.SliceStable(s, func(i, j int) bool { return s[i].Date.Before(s[j].Date) })
	out := s[:0]
	for _, p := range s {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// PriceHistory is a provider response: a series per asset, or the reason an asset is missing
type PriceHistory struct {
	Series  map[string]PriceSeries `json:"series" msgpack:"series"`
	Missing map[string]string      `json:"missing,omitempty" msgpack:"missing"`
}

// NewPriceHistory creates an empty response
func NewPriceHistory() *PriceHistory {
	return &PriceHistory{
		Series:  make(map[string]PriceSeries),
		Missing: make(map[string]string),
	}
}

// Add records a series for an asset. Empty series are recorded as missing.
// A series that fails Validate is repaired on a copy: points with a non-positive or
// non-finite price are dropped, and dates are sorted with duplicates collapsed.
func (h *PriceHistory) Add(asset string, series PriceSeries) {
	if series.Validate() != nil {
		series = series.repaired()
	}
	if len(series) == 0 {
		h.MarkMissing(asset, "no data in range")
		return
	}
	h.Series[asset] = series
	delete(h.Missing, asset)
}

func (s PriceSeries) repaired() PriceSeries {
	out := make(PriceSeries, 0, len(s))
	for _, p := range s {
		if p.Price > 0 && !math.IsInf(p.Price, 0) {
			out = append(out, p)
		}
	}
	return out.Sort()
}

// MarkMissing records that an asset could not be supplied
func (h *PriceHistory) MarkMissing(asset, reason string) {
	delete(h.Series, asset)
	h.Missing[asset] = reason
}

// Complete reports whether every requested asset has a series
func (h *PriceHistory) Complete(assets []string) bool {
	for _, a := range assets {
		if _, ok := h.Series[a]; !ok {
			return false
		}
	}
	return true
}

// NormalizeAssets trims, upper-cases and de-duplicates identifiers, keeping first-seen order
func NormalizeAssets(assets []string) []string {
	seen := make(map[string]bool, len(assets))
	out := make([]string, 0, len(assets))
	for _, a := range assets {
		a = strings.ToUpper(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// DefaultAssets is the basket used when a request names none
var DefaultAssets = []string{"AAPL", "GOOG", "MSFT", "TSLA", "BTC-USD"}
