// Package universe serves locally stored daily price histories.
package universe

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// HistoryDB provides access to historical price data in history.db
type HistoryDB struct {
	db  *sql.DB
	now func() time.Time
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		now: time.Now,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// DailyPrice represents one stored close. AdjustedClose is optional.
type DailyPrice struct {
	Date          string   `json:"date"`
	Close         float64  `json:"close"`
	AdjustedClose *float64 `json:"adjusted_close,omitempty"`
}

// Name identifies the provider in errors and logs
func (h *HistoryDB) Name() string {
	return "history"
}

// FetchPrices reads each asset's closes inside the lookback window.
// The adjusted close is used when present. Assets with no rows are reported missing.
func (h *HistoryDB) FetchPrices(ctx context.Context, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	start, end := lookback.Window(h.now())
	from, to := start.UTC().Format(dateLayout), end.UTC().Format(dateLayout)

	history := domain.NewPriceHistory()
	for _, asset := range assets {
		series, err := h.getSeries(ctx, asset, from, to)
		if err != nil {
			return nil, err
		}
		if len(series) == 0 {
			var known int
			if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_prices WHERE symbol = ?", asset).Scan(&known); err != nil {
				return nil, fmt.Errorf("failed to check symbol %s: %w", asset, err)
			}
			if known == 0 {
				history.MarkMissing(asset, "unknown symbol")
				continue
			}
		}
		history.Add(asset, series)
	}

	h.log.Debug().
		Strs("assets", assets).
		Str("from", from).
		Str("to", to).
		Int("missing", len(history.Missing)).
		Msg("Read price histories")

	return history, nil
}

func (h *HistoryDB) getSeries(ctx context.Context, symbol, from, to string) (domain.PriceSeries, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT date, COALESCE(adjusted_close, close)
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices for %s: %w", symbol, err)
	}
	defer rows.Close()

	var series domain.PriceSeries
	for rows.Next() {
		var (
			date  string
			price float64
		)
		if err := rows.Scan(&date, &price); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			h.log.Warn().Str("symbol", symbol).Str("date", date).Msg("Skipping row with invalid date")
			continue
		}
		if !(price > 0) {
			continue
		}
		series = append(series, domain.PricePoint{Date: t, Price: price})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate daily prices: %w", err)
	}

	return series, nil
}

// SyncPrices inserts or replaces daily prices for a symbol in a single transaction
func (h *HistoryDB) SyncPrices(symbol string, prices []DailyPrice) error {
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO daily_prices (symbol, date, close, adjusted_close)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, p := range prices {
			if _, err := time.Parse(dateLayout, p.Date); err != nil {
				return fmt.Errorf("failed to parse date %s: %w", p.Date, err)
			}
			adjusted := sql.NullFloat64{}
			if p.AdjustedClose != nil {
				adjusted = sql.NullFloat64{Float64: *p.AdjustedClose, Valid: true}
			}
			if _, err := stmt.Exec(symbol, p.Date, p.Close, adjusted); err != nil {
				return fmt.Errorf("failed to insert daily price for %s: %w", p.Date, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	h.log.Info().
		Str("symbol", symbol).
		Int("count", len(prices)).
		Msg("Synced historical prices")

	return nil
}
