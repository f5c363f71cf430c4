package di

import (
	"context"
	"fmt"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/charts"
	"github.com/aristath/frontier/internal/modules/marketdata"
	"github.com/aristath/frontier/internal/modules/optimization"
	portfoliohandlers "github.com/aristath/frontier/internal/modules/optimization/handlers"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/rs/zerolog"
)

// InitializeServices creates the price provider, the analytics engine and its HTTP handler
func InitializeServices(ctx context.Context, container *Container, cfg *config.Config, log zerolog.Logger) error {
	container.HistoryRepo = universe.NewHistoryDB(container.HistoryDB.Conn(), log)
	if cfg.Cache.Enabled {
		container.CacheRepo = clientdata.NewRepository(container.CacheDB.Conn())
	}

	provider, err := marketdata.NewProvider(ctx, cfg, marketdata.Databases{
		History: container.HistoryDB.Conn(),
		Cache:   container.CacheDB.Conn(),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create market data provider: %w", err)
	}
	container.Provider = provider

	solver, err := newSolver(cfg.Engine)
	if err != nil {
		return err
	}

	container.OptimizationService = optimization.NewService(
		provider,
		optimization.NewReturnSeriesBuilder(cfg.Engine.MinObservations, log),
		optimization.NewStatisticsEstimator(cfg.Engine.AnnualizationFactor, log),
		optimization.NewMVOptimizer(solver, log),
		optimization.NewFrontierSampler(cfg.Engine.Workers, log),
		optimization.ServiceConfig{
			RiskFreeRate:  cfg.Engine.RiskFreeRate,
			DefaultTrials: cfg.Engine.DefaultTrials,
			MaxTrials:     cfg.Engine.MaxTrials,
		},
		log,
	)

	container.ChartService = charts.NewService(log)
	container.PortfolioHandler = portfoliohandlers.NewHandler(container.OptimizationService, container.ChartService, log)

	log.Info().
		Str("provider", provider.Name()).
		Str("solver", solver.Name()).
		Int("workers", cfg.Engine.Workers).
		Msg("Services initialized")

	return nil
}

// newSolver returns the configured max-Sharpe solver
func newSolver(cfg config.EngineConfig) (optimization.Solver, error) {
	switch cfg.Solver {
	case config.SolverActiveSet, "":
		return optimization.NewActiveSetSolver(cfg.MaxIterations), nil
	case config.SolverGradient:
		return optimization.NewGradientSolver(cfg.MaxIterations), nil
	default:
		return nil, fmt.Errorf("unknown solver: %q", cfg.Solver)
	}
}
