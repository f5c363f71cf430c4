// Package main is the entry point for the Frontier portfolio analytics service.
// It serves expected-return, covariance, max-Sharpe and Monte Carlo frontier
// calculations over daily closing prices from a configurable price source.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/di"
	"github.com/aristath/frontier/internal/server"
	"github.com/aristath/frontier/pkg/logger"
)

// main loads configuration, wires dependencies, starts the scheduler and the HTTP
// server, then waits for a shutdown signal.
func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("price_source", cfg.PriceSource).
		Str("solver", cfg.Engine.Solver).
		Msg("Starting Frontier")

	wireCtx, wireCancel := context.WithTimeout(context.Background(), 30*time.Second)
	container, err := di.Wire(wireCtx, cfg, log)
	wireCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	// Closing flushes the WAL of both databases
	defer container.Close()

	container.Scheduler.Start()

	if container.HistorySync != nil && cfg.HistorySync.OnStartup {
		go func() {
			if err := container.Scheduler.RunNow(container.HistorySync); err != nil {
				log.Warn().Err(err).Msg("Initial historical price sync failed")
			}
		}()
	}

	srv := server.New(server.Config{
		Log:       log,
		HistoryDB: container.HistoryDB,
		CacheDB:   container.CacheDB,
		Config:    cfg,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Portfolio: container.PortfolioHandler,
		Cache:     container.CacheRepo,
		Scheduler: container.Scheduler,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.Scheduler.Stop()

	log.Info().Msg("Server stopped")
}
