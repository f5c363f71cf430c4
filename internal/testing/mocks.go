package testing

import (
	"context"
	"sync"

	"github.com/aristath/frontier/internal/domain"
)

// MockMarketDataProvider is a mock implementation of domain.MarketDataProvider for testing.
// Assets without a series are reported missing as "unknown symbol".
type MockMarketDataProvider struct {
	mu     sync.Mutex
	series map[string]domain.PriceSeries
	err    error
	calls  int
}

// NewMockMarketDataProvider creates a new mock provider serving series
func NewMockMarketDataProvider(series map[string]domain.PriceSeries) *MockMarketDataProvider {
	if series == nil {
		series = make(map[string]domain.PriceSeries)
	}
	return &MockMarketDataProvider{series: series}
}

// SetError sets the error to return
func (m *MockMarketDataProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the number of FetchPrices calls
func (m *MockMarketDataProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name returns "mock"
func (m *MockMarketDataProvider) Name() string {
	return "mock"
}

// FetchPrices returns the configured series for the requested assets
func (m *MockMarketDataProvider) FetchPrices(_ context.Context, assets []string, _ domain.Lookback) (*domain.PriceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}

	history := domain.NewPriceHistory()
	for _, asset := range assets {
		if s, ok := m.series[asset]; ok {
			history.Add(asset, s)
		} else {
			history.MarkMissing(asset, "unknown symbol")
		}
	}
	return history, nil
}
