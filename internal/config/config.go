// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/joho/godotenv"
)

// Price sources understood by the provider factory
const (
	PriceSourceYahoo   = "yahoo"
	PriceSourceHistory = "history"
	PriceSourceS3      = "s3"
)

// Solver names
const (
	SolverActiveSet = "active-set"
	SolverGradient  = "gradient"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	MaintenanceSchedule string // Cron expression (with seconds) for database integrity checks

	PriceSource     string
	YahooBaseURL    string
	ProviderTimeout time.Duration
	ProviderWorkers int

	Cache       CacheConfig
	Engine      EngineConfig
	S3          S3Config
	HistorySync HistorySyncConfig
}

// HistorySyncConfig controls the job that fills history.db from Yahoo.
// It only runs when PRICE_SOURCE=history.
type HistorySyncConfig struct {
	Schedule  string   // Cron expression (with seconds)
	Symbols   []string // Symbols kept in history.db
	Lookback  string   // Range fetched on every run; covers the longest window served
	OnStartup bool     // Run once when the server starts
}

// CacheConfig controls the explicit price-history cache
type CacheConfig struct {
	Enabled         bool
	TTL             time.Duration // Entries younger than this are served without calling the provider
	MaxStale        time.Duration // Oldest entry allowed as a fallback when the provider fails
	CleanupSchedule string        // Cron expression (with seconds) for expired-row cleanup
}

// EngineConfig holds the numerical defaults of the analytics engine
type EngineConfig struct {
	MinObservations     int
	AnnualizationFactor float64
	RiskFreeRate        float64
	DefaultTrials       int
	MaxTrials           int
	Workers             int
	Solver              string
	MaxIterations       int
}

// S3Config configures the object-store price source
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // Optional, for S3-compatible stores (MinIO, R2)
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("FRONTIER_DATA_DIR", "./data")

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Port:                getEnvAsInt("GO_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		MaintenanceSchedule: getEnv("DB_MAINTENANCE_SCHEDULE", "0 30 3 * * *"),
		PriceSource:         strings.ToLower(getEnv("PRICE_SOURCE", PriceSourceYahoo)),
		YahooBaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		ProviderTimeout:     time.Duration(getEnvAsInt("PROVIDER_TIMEOUT_SECONDS", 10)) * time.Second,
		ProviderWorkers:     getEnvAsInt("PROVIDER_CONCURRENCY", 4),
		Cache: CacheConfig{
			Enabled:         getEnvAsBool("PRICE_CACHE_ENABLED", true),
			TTL:             time.Duration(getEnvAsInt("PRICE_CACHE_TTL_MINUTES", 360)) * time.Minute,
			MaxStale:        time.Duration(getEnvAsInt("PRICE_CACHE_MAX_STALE_HOURS", 72)) * time.Hour,
			CleanupSchedule: getEnv("CACHE_CLEANUP_SCHEDULE", "0 0 3 * * *"),
		},
		Engine: EngineConfig{
			MinObservations:     getEnvAsInt("MIN_OBSERVATIONS", 2),
			AnnualizationFactor: getEnvAsFloat("ANNUALIZATION_FACTOR", 252),
			RiskFreeRate:        getEnvAsFloat("RISK_FREE_RATE", 0),
			DefaultTrials:       getEnvAsInt("MC_DEFAULT_TRIALS", 3000),
			MaxTrials:           getEnvAsInt("MC_MAX_TRIALS", 100000),
			Workers:             getEnvAsInt("MC_WORKERS", runtime.NumCPU()),
			Solver:              strings.ToLower(getEnv("SOLVER", SolverActiveSet)),
			MaxIterations:       getEnvAsInt("SOLVER_MAX_ITERATIONS", 500),
		},
		HistorySync: HistorySyncConfig{
			Schedule:  getEnv("HISTORY_SYNC_SCHEDULE", "0 0 22 * * *"),
			Symbols:   getEnvAsList("HISTORY_SYNC_SYMBOLS", domain.DefaultAssets),
			Lookback:  getEnv("HISTORY_SYNC_LOOKBACK", "5y"),
			OnStartup: getEnvAsBool("HISTORY_SYNC_ON_STARTUP", true),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Prefix:          getEnv("S3_PREFIX", "prices/"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.PriceSource {
	case PriceSourceYahoo, PriceSourceHistory:
	case PriceSourceS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when PRICE_SOURCE=s3")
		}
	default:
		return fmt.Errorf("unknown price source: %q", c.PriceSource)
	}

	if c.PriceSource == PriceSourceHistory {
		if len(c.HistorySync.Symbols) == 0 {
			return fmt.Errorf("HISTORY_SYNC_SYMBOLS is required when PRICE_SOURCE=history")
		}
		if _, err := domain.ParseLookback(c.HistorySync.Lookback); err != nil {
			return fmt.Errorf("invalid HISTORY_SYNC_LOOKBACK: %w", err)
		}
	}

	if c.ProviderWorkers < 1 {
		return fmt.Errorf("PROVIDER_CONCURRENCY must be at least 1, got %d", c.ProviderWorkers)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL_MINUTES must be positive")
	}
	if c.Cache.MaxStale < 0 {
		return fmt.Errorf("PRICE_CACHE_MAX_STALE_HOURS must not be negative")
	}

	e := c.Engine
	if e.MinObservations < 2 {
		return fmt.Errorf("MIN_OBSERVATIONS must be at least 2, got %d", e.MinObservations)
	}
	if e.AnnualizationFactor <= 0 {
		return fmt.Errorf("ANNUALIZATION_FACTOR must be positive")
	}
	if !(e.RiskFreeRate > -1 && e.RiskFreeRate < 1) {
		return fmt.Errorf("RISK_FREE_RATE must be in (-1, 1), got %v", e.RiskFreeRate)
	}
	if e.DefaultTrials < 1 || e.MaxTrials < e.DefaultTrials {
		return fmt.Errorf("invalid Monte Carlo trial limits: default=%d max=%d", e.DefaultTrials, e.MaxTrials)
	}
	if e.Workers < 1 {
		return fmt.Errorf("MC_WORKERS must be at least 1, got %d", e.Workers)
	}
	if e.Solver != SolverActiveSet && e.Solver != SolverGradient {
		return fmt.Errorf("unknown solver: %q", e.Solver)
	}
	if e.MaxIterations < 1 {
		return fmt.Errorf("SOLVER_MAX_ITERATIONS must be at least 1")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	return domain.NormalizeAssets(strings.Split(value, ","))
}
