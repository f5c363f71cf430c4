package di

import (
	"fmt"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/clients/yahoo"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers the maintenance jobs.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	if container.CacheRepo != nil {
		cleanup := clientdata.NewCleanupJob(container.CacheRepo, cfg.Cache.MaxStale, log)
		if err := sched.AddJob(cfg.Cache.CleanupSchedule, cleanup); err != nil {
			return fmt.Errorf("failed to register %s: %w", cleanup.Name(), err)
		}
	}

	maintenance := scheduler.NewDatabaseMaintenanceJob(log, container.HistoryDB, container.CacheDB)
	if err := sched.AddJob(cfg.MaintenanceSchedule, maintenance); err != nil {
		return fmt.Errorf("failed to register %s: %w", maintenance.Name(), err)
	}

	if cfg.PriceSource == config.PriceSourceHistory {
		lookback, err := domain.ParseLookback(cfg.HistorySync.Lookback)
		if err != nil {
			return fmt.Errorf("invalid history sync lookback: %w", err)
		}
		// Yahoo is the upstream that keeps history.db current
		source := yahoo.NewClient(cfg.YahooBaseURL, cfg.ProviderTimeout, cfg.ProviderWorkers, log)
		syncJob := universe.NewHistoricalSyncJob(source, container.HistoryRepo, cfg.HistorySync.Symbols, lookback, log)
		if err := sched.AddJob(cfg.HistorySync.Schedule, syncJob); err != nil {
			return fmt.Errorf("failed to register %s: %w", syncJob.Name(), err)
		}
		container.HistorySync = syncJob
	}

	container.Scheduler = sched
	return nil
}
