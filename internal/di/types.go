// Package di wires the application's databases, providers, services and jobs.
package di

import (
	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/charts"
	"github.com/aristath/frontier/internal/modules/optimization"
	portfoliohandlers "github.com/aristath/frontier/internal/modules/optimization/handlers"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/scheduler"
)

// Container holds all application dependencies
type Container struct {
	// Databases
	HistoryDB *database.DB
	CacheDB   *database.DB

	// Repositories
	HistoryRepo *universe.HistoryDB
	CacheRepo   *clientdata.Repository // nil when the price cache is disabled

	// Services
	Provider            domain.MarketDataProvider
	OptimizationService *optimization.Service
	ChartService        *charts.Service
	PortfolioHandler    *portfoliohandlers.Handler

	// Jobs
	Scheduler   *scheduler.Scheduler
	HistorySync *universe.HistoricalSyncJob // nil unless the history price source is active
}

// Close closes every open database
func (c *Container) Close() {
	if c.HistoryDB != nil {
		_ = c.HistoryDB.Close()
	}
	if c.CacheDB != nil {
		_ = c.CacheDB.Close()
	}
}
