package universe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
)

// HistoricalSyncJob copies daily closes from an upstream provider into history.db,
// which is what the history price source serves from.
type HistoricalSyncJob struct {
	source   domain.MarketDataProvider
	history  *HistoryDB
	symbols  []string
	lookback domain.Lookback
	timeout  time.Duration
	log      zerolog.Logger
}

// NewHistoricalSyncJob creates a sync job for symbols over the lookback window
func NewHistoricalSyncJob(
	source domain.MarketDataProvider,
	history *HistoryDB,
	symbols []string,
	lookback domain.Lookback,
	log zerolog.Logger,
) *HistoricalSyncJob {
	return &HistoricalSyncJob{
		source:   source,
		history:  history,
		symbols:  domain.NormalizeAssets(symbols),
		lookback: lookback,
		timeout:  5 * time.Minute,
		log:      log.With().Str("job", "historical_sync").Str("source", source.Name()).Logger(),
	}
}

// Name returns the job name for scheduling and logging.
func (j *HistoricalSyncJob) Name() string {
	return "historical_sync"
}

// Run syncs every configured symbol.
func (j *HistoricalSyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.Sync(ctx)
}

// Sync fetches all symbols in one provider call and upserts what came back.
// Symbols the source reports missing are logged and skipped. It fails when the fetch
// fails, when a write fails, or when nothing at all was stored.
func (j *HistoricalSyncJob) Sync(ctx context.Context) error {
	start := time.Now()

	fetched, err := j.source.FetchPrices(ctx, j.symbols, j.lookback)
	if err != nil {
		return fmt.Errorf("failed to fetch prices from %s: %w", j.source.Name(), err)
	}

	synced := 0
	var errs []error
	for _, symbol := range j.symbols {
		series, ok := fetched.Series[symbol]
		if !ok {
			j.log.Warn().
				Str("symbol", symbol).
				Str("reason", fetched.Missing[symbol]).
				Msg("No prices to sync")
			continue
		}

		prices := make([]DailyPrice, len(series))
		for i, p := range series {
			prices[i] = DailyPrice{Date: p.Date.UTC().Format(dateLayout), Close: p.Price}
		}
		if err := j.history.SyncPrices(symbol, prices); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
			continue
		}
		synced++
	}

	j.log.Info().
		Int("synced", synced).
		Int("requested", len(j.symbols)).
		Str("lookback", j.lookback.Key()).
		Dur("duration", time.Since(start)).
		Msg("Historical price sync finished")

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if synced == 0 {
		return fmt.Errorf("no prices synced for %d symbols", len(j.symbols))
	}
	return nil
}
