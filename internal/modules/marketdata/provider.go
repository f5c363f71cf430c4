package marketdata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/clients/objectstore"
	"github.com/aristath/frontier/internal/clients/yahoo"
	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/rs/zerolog"
)

// Databases holds the connections the providers may need. Either may be nil when the
// configured source or cache does not use it.
type Databases struct {
	History *sql.DB
	Cache   *sql.DB
}

// NewProvider builds the configured price source, wrapped in the price cache when enabled
func NewProvider(ctx context.Context, cfg *config.Config, dbs Databases, log zerolog.Logger) (domain.MarketDataProvider, error) {
	var source domain.MarketDataProvider

	switch cfg.PriceSource {
	case config.PriceSourceYahoo:
		source = yahoo.NewClient(cfg.YahooBaseURL, cfg.ProviderTimeout, cfg.ProviderWorkers, log)

	case config.PriceSourceHistory:
		if dbs.History == nil {
			return nil, fmt.Errorf("price source %q requires the history database", cfg.PriceSource)
		}
		source = universe.NewHistoryDB(dbs.History, log)

	case config.PriceSourceS3:
		client, err := objectstore.NewClient(ctx, objectstore.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Workers:         cfg.ProviderWorkers,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create object store client: %w", err)
		}
		source = client

	default:
		return nil, fmt.Errorf("unknown price source %q", cfg.PriceSource)
	}

	if !cfg.Cache.Enabled || dbs.Cache == nil {
		log.Info().Str("source", source.Name()).Msg("Price cache disabled")
		return source, nil
	}

	log.Info().
		Str("source", source.Name()).
		Dur("ttl", cfg.Cache.TTL).
		Dur("max_stale", cfg.Cache.MaxStale).
		Msg("Price cache enabled")

	return NewCachedProvider(source, clientdata.NewRepository(dbs.Cache), cfg.Cache.TTL, cfg.Cache.MaxStale, log), nil
}
