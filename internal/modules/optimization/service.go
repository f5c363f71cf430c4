package optimization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServiceConfig holds request defaults and limits
type ServiceConfig struct {
	RiskFreeRate  float64
	DefaultTrials int
	MaxTrials     int
}

// Service is the engine boundary: it fetches prices once per request and runs the
// builder, estimator, optimizer and sampler over them.
type Service struct {
	provider  domain.MarketDataProvider
	builder   *ReturnSeriesBuilder
	estimator *StatisticsEstimator
	optimizer *MVOptimizer
	sampler   *FrontierSampler
	cfg       ServiceConfig
	log       zerolog.Logger
}

// NewService creates the analytics service
func NewService(
	provider domain.MarketDataProvider,
	builder *ReturnSeriesBuilder,
	estimator *StatisticsEstimator,
	optimizer *MVOptimizer,
	sampler *FrontierSampler,
	cfg ServiceConfig,
	log zerolog.Logger,
) *Service {
	if cfg.DefaultTrials <= 0 {
		cfg.DefaultTrials = DefaultTrials
	}
	if cfg.MaxTrials < cfg.DefaultTrials {
		cfg.MaxTrials = cfg.DefaultTrials
	}
	return &Service{
		provider:  provider,
		builder:   builder,
		estimator: estimator,
		optimizer: optimizer,
		sampler:   sampler,
		cfg:       cfg,
		log:       log.With().Str("service", "optimization").Logger(),
	}
}

// Defaults returns the configured request defaults
func (s *Service) Defaults() ServiceConfig {
	return s.cfg
}

// SolverName reports the active solver
func (s *Service) SolverName() string {
	return s.optimizer.SolverName()
}

// Estimate returns the annualized expected returns and covariance for the assets.
func (s *Service) Estimate(ctx context.Context, assets []string, lookback domain.Lookback) (*Estimates, error) {
	return s.estimate(ctx, domain.NormalizeAssets(assets), lookback, false)
}

// estimate fetches and estimates. allowSingle skips the two-asset minimum for callers
// that have a meaningful answer for one asset.
func (s *Service) estimate(ctx context.Context, assets []string, lookback domain.Lookback, allowSingle bool) (*Estimates, error) {
	history, err := s.fetch(ctx, assets, lookback)
	if err != nil {
		return nil, err
	}

	build := s.builder.Build
	if allowSingle && len(assets) == 1 {
		build = s.builder.build
	}
	returns, err := build(assets, history)
	if err != nil {
		return nil, err
	}

	return s.estimator.Estimate(returns)
}

// Optimize returns the maximum-Sharpe allocation for the assets.
// A single asset is allocated fully without running the solver.
func (s *Service) Optimize(ctx context.Context, assets []string, lookback domain.Lookback, riskFreeRate float64) (*OptimizationResult, error) {
	start := time.Now()
	assets = domain.NormalizeAssets(assets)
	if len(assets) == 0 {
		return nil, &InsufficientDataError{Reason: "no assets requested", Required: 1}
	}

	history, err := s.fetch(ctx, assets, lookback)
	if err != nil {
		return nil, err
	}

	if len(assets) == 1 {
		return s.optimizeSingle(assets, lookback, history, riskFreeRate)
	}

	returns, err := s.builder.Build(assets, history)
	if err != nil {
		return nil, err
	}
	est, err := s.estimator.Estimate(returns)
	if err != nil {
		return nil, err
	}

	alloc, err := s.optimizer.Optimize(est.Assets, est.ExpectedReturns, est.Covariance, riskFreeRate)
	if err != nil {
		return nil, err
	}

	perf := PortfolioPerformance(alloc.Weights, est, riskFreeRate)
	weights := alloc.WeightVector()

	result := &OptimizationResult{
		ID:           uuid.New().String(),
		Assets:       est.Assets,
		Lookback:     lookback.Key(),
		Weights:      weights,
		CleanWeights: CleanWeights(weights, CleanWeightsCutoff, CleanWeightsPlaces),
		Performance:  &perf,
		RiskFreeRate: riskFreeRate,
		Solver:       alloc.Solver,
		Iterations:   alloc.Iterations,
		Observations: est.Observations,
	}

	s.log.Info().
		Str("id", result.ID).
		Strs("assets", assets).
		Str("lookback", lookback.Key()).
		Str("solver", alloc.Solver).
		Int("iterations", alloc.Iterations).
		Float64("sharpe", perf.Sharpe).
		Dur("duration", time.Since(start)).
		Msg("Optimization completed")

	return result, nil
}

func (s *Service) optimizeSingle(assets []string, lookback domain.Lookback, history *domain.PriceHistory, riskFreeRate float64) (*OptimizationResult, error) {
	alloc, err := s.optimizer.Optimize(assets, []float64{0}, nil, riskFreeRate)
	if err != nil {
		return nil, err
	}

	result := &OptimizationResult{
		ID:           uuid.New().String(),
		Assets:       alloc.Assets,
		Lookback:     lookback.Key(),
		Weights:      alloc.WeightVector(),
		CleanWeights: alloc.WeightVector(),
		RiskFreeRate: riskFreeRate,
		Solver:       alloc.Solver,
	}

	// The asset itself must exist; performance is reported only when the series is long enough
	returns, err := s.builder.build(assets, history)
	var insufficient *InsufficientDataError
	switch {
	case err == nil:
		if est, estErr := s.estimator.Estimate(returns); estErr == nil {
			perf := PortfolioPerformance(alloc.Weights, est, riskFreeRate)
			result.Performance = &perf
			result.Observations = est.Observations
		}
	case errors.As(err, &insufficient) && len(insufficient.Missing) == 0:
		s.log.Debug().Err(err).Str("asset", assets[0]).Msg("Single-asset performance unavailable")
	default:
		return nil, err
	}

	return result, nil
}

// SimulateFrontier samples random portfolios for the assets.
// trials <= 0 selects the configured default. A nil seed draws a fresh one, which is
// reported in the result so the run can be repeated.
func (s *Service) SimulateFrontier(ctx context.Context, assets []string, lookback domain.Lookback, trials int, seed *uint64) (*FrontierResult, error) {
	points := make([]FrontierPoint, 0)
	result, err := s.StreamFrontier(ctx, assets, lookback, trials, seed, func(_ int, batch []FrontierPoint) error {
		points = append(points, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Points = points
	return result, nil
}

// StreamFrontier is SimulateFrontier with points delivered in trial-ordered batches
// instead of collected. The returned result carries no points.
func (s *Service) StreamFrontier(
	ctx context.Context,
	assets []string,
	lookback domain.Lookback,
	trials int,
	seed *uint64,
	emit func(offset int, batch []FrontierPoint) error,
) (*FrontierResult, error) {
	start := time.Now()
	assets = domain.NormalizeAssets(assets)

	if trials == 0 {
		trials = s.cfg.DefaultTrials
	}
	if trials < 0 || trials > s.cfg.MaxTrials {
		return nil, &InvalidDimensionError{What: fmt.Sprintf("trial count (1..%d)", s.cfg.MaxTrials), Expected: s.cfg.MaxTrials, Got: trials}
	}

	// A single asset is a valid universe: every point is that asset's own return and volatility
	est, err := s.estimate(ctx, assets, lookback, true)
	if err != nil {
		return nil, err
	}

	runSeed := NewSeed()
	if seed != nil {
		runSeed = *seed
	}

	err = s.sampler.Stream(ctx, SampleRequest{
		Assets:          est.Assets,
		ExpectedReturns: est.ExpectedReturns,
		Covariance:      est.Covariance,
		Trials:          trials,
		Seed:            runSeed,
	}, emit)
	if err != nil {
		return nil, err
	}

	result := &FrontierResult{
		ID:           uuid.New().String(),
		Assets:       est.Assets,
		Lookback:     lookback.Key(),
		Trials:       trials,
		Seed:         runSeed,
		Distribution: SamplingDistribution,
	}

	s.log.Info().
		Str("id", result.ID).
		Strs("assets", est.Assets).
		Int("trials", trials).
		Uint64("seed", runSeed).
		Dur("duration", time.Since(start)).
		Msg("Frontier simulation completed")

	return result, nil
}

// fetch calls the provider and wraps its failures
func (s *Service) fetch(ctx context.Context, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	if len(assets) == 0 {
		return nil, &InsufficientDataError{Reason: "no assets requested", Required: minAssets}
	}
	if s.provider == nil {
		return nil, &ProviderError{Provider: "none", Err: errors.New("no market data provider configured")}
	}

	history, err := s.provider.FetchPrices(ctx, assets, lookback)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("provider", s.provider.Name()).
			Strs("assets", assets).
			Msg("Failed to fetch price history")
		return nil, &ProviderError{Provider: s.provider.Name(), Err: err}
	}
	return history, nil
}
