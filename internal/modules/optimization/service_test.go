package optimization

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// mockProvider serves canned price histories
type mockProvider struct {
	series  map[string]domain.PriceSeries
	missing map[string]string
	err     error
	calls   int
	lastReq []string
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) FetchPrices(_ context.Context, assets []string, _ domain.Lookback) (*domain.PriceHistory, error) {
	m.calls++
	m.lastReq = assets
	if m.err != nil {
		return nil, m.err
	}
	h := domain.NewPriceHistory()
	for _, a := range assets {
		if reason, ok := m.missing[a]; ok {
			h.MarkMissing(a, reason)
			continue
		}
		if s, ok := m.series[a]; ok {
			h.Add(a, s)
		} else {
			h.MarkMissing(a, "unknown symbol")
		}
	}
	return h, nil
}

// synthetic builds a smooth but non-degenerate price path
func synthetic(days int, start, drift, amp, freq, phase float64) domain.PriceSeries {
	out := make(domain.PriceSeries, days)
	price := start
	for t := 0; t < days; t++ {
		if t > 0 {
			price *= 1 + drift + amp*math.Sin(float64(t)*freq+phase)
		}
		out[t] = domain.PricePoint{Date: baseDay.AddDate(0, 0, t), Price: price}
	}
	return out
}

func newTestProvider() *mockProvider {
	return &mockProvider{series: map[string]domain.PriceSeries{
		"AAPL":    synthetic(120, 150, 0.0010, 0.012, 0.7, 0.0),
		"MSFT":    synthetic(120, 300, 0.0008, 0.009, 1.3, 1.0),
		"GOOG":    synthetic(120, 120, 0.0006, 0.015, 0.4, 2.0),
		"BTC-USD": synthetic(120, 40000, 0.0020, 0.030, 2.1, 0.5),
		"SHORT":   synthetic(2, 10, 0.01, 0.0, 1, 0),
	}}
}

func newTestService(provider domain.MarketDataProvider) *Service {
	log := zerolog.Nop()
	return NewService(
		provider,
		NewReturnSeriesBuilder(2, log),
		NewStatisticsEstimator(DefaultAnnualizationFactor, log),
		NewMVOptimizer(NewActiveSetSolver(DefaultMaxIterations), log),
		NewFrontierSampler(4, log),
		ServiceConfig{DefaultTrials: 300, MaxTrials: 5000},
		log,
	)
}

var oneYear = domain.Lookback{Range: "1y"}

func TestService_Estimate(t *testing.T) {
	provider := newTestProvider()
	svc := newTestService(provider)

	est, err := svc.Estimate(context.Background(), []string{" aapl", "MSFT", "AAPL", "goog"}, oneYear)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, provider.lastReq, "assets are normalized before fetching")
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOG"}, est.Assets)
	assert.Equal(t, 119, est.Observations)
	assert.Len(t, est.ExpectedReturns, 3)
	assert.Equal(t, 3, est.Covariance.SymmetricDim())

	again, err := svc.Estimate(context.Background(), []string{"AAPL", "MSFT", "GOOG"}, oneYear)
	require.NoError(t, err)
	assert.Equal(t, est.ExpectedReturns, again.ExpectedReturns)
	assert.True(t, mat.Equal(est.Covariance, again.Covariance))
}

func TestService_EstimateSingleAlignedRow(t *testing.T) {
	provider := newTestProvider()
	provider.series["SHORT2"] = synthetic(2, 20, 0.02, 0, 1, 0)
	svc := newTestService(provider)

	_, err := svc.Estimate(context.Background(), []string{"SHORT", "SHORT2"}, oneYear)

	var target *InsufficientDataError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 1, target.Observations)
}

func TestService_Optimize(t *testing.T) {
	svc := newTestService(newTestProvider())

	result, err := svc.Optimize(context.Background(), []string{"AAPL", "MSFT", "GOOG", "BTC-USD"}, oneYear, 0.01)
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "1y", result.Lookback)
	assert.Equal(t, "active-set", result.Solver)
	assert.Equal(t, 0.01, result.RiskFreeRate)
	assert.InDelta(t, 1.0, result.Weights.Sum(), 1e-6)
	assert.InDelta(t, 1.0, result.CleanWeights.Sum(), 1e-9)
	for asset, w := range result.Weights {
		assert.GreaterOrEqual(t, w, -1e-9, asset)
		assert.LessOrEqual(t, w, 1.0+1e-9, asset)
	}

	require.NotNil(t, result.Performance)
	assert.Greater(t, result.Performance.Volatility, 0.0)
	assert.InDelta(t, (result.Performance.ExpectedReturn-0.01)/result.Performance.Volatility, result.Performance.Sharpe, 1e-12)
}

func TestService_OptimizeSingleAsset(t *testing.T) {
	svc := newTestService(newTestProvider())

	result, err := svc.Optimize(context.Background(), []string{"msft"}, oneYear, 0)
	require.NoError(t, err)

	assert.Equal(t, WeightVector{"MSFT": 1.0}, result.Weights)
	assert.Equal(t, "none", result.Solver)
	require.NotNil(t, result.Performance)

	est, err := svc.Estimate(context.Background(), []string{"MSFT", "AAPL"}, oneYear)
	require.NoError(t, err)
	assert.InDelta(t, est.Volatilities()["MSFT"], result.Performance.Volatility, 1e-12)
}

func TestService_OptimizeSingleMissingAsset(t *testing.T) {
	svc := newTestService(newTestProvider())

	_, err := svc.Optimize(context.Background(), []string{"NOPE"}, oneYear, 0)

	var target *InsufficientDataError
	require.ErrorAs(t, err, &target)
	assert.Contains(t, target.Missing, "NOPE")
}

func TestService_MissingAssetIsInsufficientData(t *testing.T) {
	provider := newTestProvider()
	provider.missing = map[string]string{"GOOG": "no data in range"}
	svc := newTestService(provider)

	_, err := svc.Optimize(context.Background(), []string{"AAPL", "GOOG"}, oneYear, 0)

	var target *InsufficientDataError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "no data in range", target.Missing["GOOG"])
}

func TestService_ProviderErrorIsWrapped(t *testing.T) {
	upstream := errors.New("connection reset")
	svc := newTestService(&mockProvider{err: upstream})

	tests := []struct {
		name string
		call func() error
	}{
		{"estimate", func() error {
			_, err := svc.Estimate(context.Background(), []string{"AAPL", "MSFT"}, oneYear)
			return err
		}},
		{"optimize", func() error {
			_, err := svc.Optimize(context.Background(), []string{"AAPL", "MSFT"}, oneYear, 0)
			return err
		}},
		{"frontier", func() error {
			_, err := svc.SimulateFrontier(context.Background(), []string{"AAPL", "MSFT"}, oneYear, 10, nil)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var target *ProviderError
			require.ErrorAs(t, err, &target)
			assert.Equal(t, "mock", target.Provider)
			assert.ErrorIs(t, err, upstream)
		})
	}
}

func TestService_SimulateFrontier(t *testing.T) {
	svc := newTestService(newTestProvider())
	seed := uint64(2024)
	assets := []string{"AAPL", "MSFT", "GOOG"}

	first, err := svc.SimulateFrontier(context.Background(), assets, oneYear, 5000, &seed)
	require.NoError(t, err)
	second, err := svc.SimulateFrontier(context.Background(), assets, oneYear, 5000, &seed)
	require.NoError(t, err)

	assert.Len(t, first.Points, 5000)
	assert.Equal(t, seed, first.Seed)
	assert.Equal(t, first.Points, second.Points)
	assert.Equal(t, SamplingDistribution, first.Distribution)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, first.Returns(), 5000)
	assert.Len(t, first.Volatilities(), 5000)
}

func TestService_SimulateFrontierSingleAsset(t *testing.T) {
	svc := newTestService(newTestProvider())
	seed := uint64(3)

	result, err := svc.SimulateFrontier(context.Background(), []string{"aapl"}, oneYear, 50, &seed)
	require.NoError(t, err)
	require.Len(t, result.Points, 50)
	assert.Equal(t, []string{"AAPL"}, result.Assets)

	// AAPL and MSFT share every date, so the pair's first row describes AAPL alone
	est, err := svc.Estimate(context.Background(), []string{"AAPL", "MSFT"}, oneYear)
	require.NoError(t, err)
	vol := math.Sqrt(est.Covariance.At(0, 0))
	for _, p := range result.Points {
		assert.InDelta(t, vol, p.Volatility, 1e-12)
		assert.InDelta(t, est.ExpectedReturns[0], p.Return, 1e-12)
	}

	_, err = svc.Estimate(context.Background(), []string{"AAPL"}, oneYear)
	var target *InsufficientDataError
	assert.ErrorAs(t, err, &target, "estimate still needs two assets for a covariance matrix")
}

func TestService_SimulateFrontierDefaults(t *testing.T) {
	svc := newTestService(newTestProvider())

	result, err := svc.SimulateFrontier(context.Background(), []string{"AAPL", "MSFT"}, oneYear, 0, nil)
	require.NoError(t, err)
	assert.Len(t, result.Points, 300)
	assert.Equal(t, 300, result.Trials)
}

func TestService_SimulateFrontierTrialLimits(t *testing.T) {
	provider := newTestProvider()
	svc := newTestService(provider)

	for _, trials := range []int{-1, 5001} {
		_, err := svc.SimulateFrontier(context.Background(), []string{"AAPL", "MSFT"}, oneYear, trials, nil)
		var target *InvalidDimensionError
		assert.ErrorAs(t, err, &target, "trials=%d", trials)
	}
	assert.Equal(t, 0, provider.calls, "limits are checked before fetching")
}

func TestService_NoAssets(t *testing.T) {
	provider := newTestProvider()
	svc := newTestService(provider)

	_, err := svc.Estimate(context.Background(), []string{"  ", ""}, oneYear)
	var target *InsufficientDataError
	assert.ErrorAs(t, err, &target)
	assert.Equal(t, 0, provider.calls)
}
