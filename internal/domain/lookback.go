package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultLookback is one calendar year of daily prices
const DefaultLookback = "1y"

// lookbackRanges maps supported range codes to calendar offsets (years, months, days)
var lookbackRanges = map[string][3]int{
	"1mo": {0, -1, 0},
	"3mo": {0, -3, 0},
	"6mo": {0, -6, 0},
	"1y":  {-1, 0, 0},
	"2y":  {-2, 0, 0},
	"5y":  {-5, 0, 0},
	"10y": {-10, 0, 0},
}

// Lookback is the price window requested from a provider.
// Range uses the chart-API vocabulary ("6mo", "1y", ...). A zero End means "now".
type Lookback struct {
	Range string
	End   time.Time
}

// ParseLookback validates a range code. An empty string selects DefaultLookback.
func ParseLookback(s string) (Lookback, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = DefaultLookback
	}
	if _, ok := lookbackRanges[s]; !ok {
		return Lookback{}, fmt.Errorf("unsupported lookback %q", s)
	}
	return Lookback{Range: s}, nil
}

// Window returns the inclusive [start, end] date window relative to now
func (l Lookback) Window(now time.Time) (time.Time, time.Time) {
	end := l.End
	if end.IsZero() {
		end = now
	}
	off, ok := lookbackRanges[l.Range]
	if !ok {
		off = lookbackRanges[DefaultLookback]
	}
	return end.AddDate(off[0], off[1], off[2]), end
}

// Key identifies the window for caching. Open-ended windows share a key per range.
func (l Lookback) Key() string {
	if l.End.IsZero() {
		return l.Range
	}
	return l.Range + "@" + l.End.UTC().Format("2006-01-02")
}

// String implements fmt.Stringer
func (l Lookback) String() string {
	return l.Key()
}
