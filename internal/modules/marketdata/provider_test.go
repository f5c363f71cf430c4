package marketdata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/clients/objectstore"
	"github.com/aristath/frontier/internal/clients/yahoo"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/modules/universe"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(source string, cacheEnabled bool) *config.Config {
	return &config.Config{
		PriceSource:     source,
		YahooBaseURL:    "http://127.0.0.1:0",
		ProviderTimeout: time.Second,
		ProviderWorkers: 2,
		Cache:           config.CacheConfig{Enabled: cacheEnabled, TTL: time.Hour, MaxStale: time.Hour},
		S3:              config.S3Config{Bucket: "prices", Prefix: "daily/", Region: "us-east-1", AccessKeyID: "k", SecretAccessKey: "s"},
	}
}

func memoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewProvider(t *testing.T) {
	history := memoryDB(t)
	cache := memoryDB(t)

	tests := []struct {
		name     string
		cfg      *config.Config
		dbs      Databases
		wantName string
		check    func(t *testing.T, p interface{})
	}{
		{
			name:     "yahoo without cache",
			cfg:      testConfig(config.PriceSourceYahoo, false),
			dbs:      Databases{Cache: cache},
			wantName: "yahoo",
			check:    func(t *testing.T, p interface{}) { assert.IsType(t, &yahoo.Client{}, p) },
		},
		{
			name:     "yahoo with cache",
			cfg:      testConfig(config.PriceSourceYahoo, true),
			dbs:      Databases{Cache: cache},
			wantName: "yahoo",
			check:    func(t *testing.T, p interface{}) { assert.IsType(t, &CachedProvider{}, p) },
		},
		{
			name:     "history",
			cfg:      testConfig(config.PriceSourceHistory, false),
			dbs:      Databases{History: history},
			wantName: "history",
			check:    func(t *testing.T, p interface{}) { assert.IsType(t, &universe.HistoryDB{}, p) },
		},
		{
			name:     "s3",
			cfg:      testConfig(config.PriceSourceS3, false),
			wantName: "s3",
			check:    func(t *testing.T, p interface{}) { assert.IsType(t, &objectstore.Client{}, p) },
		},
		{
			name:     "cache enabled without a cache database",
			cfg:      testConfig(config.PriceSourceYahoo, true),
			wantName: "yahoo",
			check:    func(t *testing.T, p interface{}) { assert.IsType(t, &yahoo.Client{}, p) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg, tt.dbs, zerolog.Nop())
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
			tt.check(t, p)
		})
	}
}

func TestNewProvider_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"unknown source", testConfig("bloomberg", false)},
		{"history without database", testConfig(config.PriceSourceHistory, false)},
		{"s3 without bucket", func() *config.Config {
			cfg := testConfig(config.PriceSourceS3, false)
			cfg.S3.Bucket = ""
			return cfg
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(context.Background(), tt.cfg, Databases{}, zerolog.Nop())
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}
