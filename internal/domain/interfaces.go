package domain

import "context"

// MarketDataProvider supplies daily adjusted-price histories.
// Assets the provider does not know, or that have no data in the window, are reported
// in PriceHistory.Missing rather than as an error. An error means the request as a
// whole failed (network, upstream outage, bad credentials).
type MarketDataProvider interface {
	FetchPrices(ctx context.Context, assets []string, lookback Lookback) (*PriceHistory, error)
	Name() string
}
