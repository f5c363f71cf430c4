package universe

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `
CREATE TABLE daily_prices (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	close REAL NOT NULL,
	adjusted_close REAL,
	PRIMARY KEY (symbol, date)
);
`

func setupHistoryDB(t *testing.T) (*sql.DB, *HistoryDB) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	h := NewHistoryDB(db, zerolog.Nop())
	h.now = func() time.Time { return time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC) }
	return db, h
}

func ptr(f float64) *float64 { return &f }

func TestSyncAndFetchPrices(t *testing.T) {
	_, h := setupHistoryDB(t)

	require.NoError(t, h.SyncPrices("AAPL", []DailyPrice{
		{Date: "2023-06-29", Close: 189.6},
		{Date: "2024-01-02", Close: 185.64, AdjustedClose: ptr(184.94)},
		{Date: "2024-01-03", Close: 184.25},
		{Date: "2024-06-28", Close: 210.62, AdjustedClose: ptr(210.62)},
	}))
	require.NoError(t, h.SyncPrices("MSFT", []DailyPrice{
		{Date: "2022-01-03", Close: 334.75},
	}))

	history, err := h.FetchPrices(context.Background(), []string{"AAPL", "MSFT", "NOPE"}, domain.Lookback{Range: "1y"})
	require.NoError(t, err)

	aapl := history.Series["AAPL"]
	require.Len(t, aapl, 3, "rows before the window start are excluded")
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), aapl[0].Date)
	assert.Equal(t, 184.94, aapl[0].Price, "adjusted close wins")
	assert.Equal(t, 184.25, aapl[1].Price, "close is the fallback")

	assert.Equal(t, "no data in range", history.Missing["MSFT"])
	assert.Equal(t, "unknown symbol", history.Missing["NOPE"])
}

func TestSyncPrices_Replaces(t *testing.T) {
	db, h := setupHistoryDB(t)

	require.NoError(t, h.SyncPrices("TSLA", []DailyPrice{{Date: "2024-05-01", Close: 180}}))
	require.NoError(t, h.SyncPrices("TSLA", []DailyPrice{{Date: "2024-05-01", Close: 181}}))

	var count int
	var maxClose float64
	require.NoError(t, db.QueryRow("SELECT COUNT(*), MAX(close) FROM daily_prices WHERE symbol = 'TSLA'").Scan(&count, &maxClose))
	assert.Equal(t, 1, count)
	assert.Equal(t, 181.0, maxClose)
}

func TestSyncPrices_InvalidDateRollsBack(t *testing.T) {
	db, h := setupHistoryDB(t)

	err := h.SyncPrices("GOOG", []DailyPrice{
		{Date: "2024-05-01", Close: 170},
		{Date: "May 2", Close: 171},
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestFetchPrices_FixedEnd(t *testing.T) {
	_, h := setupHistoryDB(t)
	require.NoError(t, h.SyncPrices("BTC-USD", []DailyPrice{
		{Date: "2023-12-30", Close: 42000},
		{Date: "2023-12-31", Close: 42200},
		{Date: "2024-01-01", Close: 44100},
	}))

	lookback := domain.Lookback{Range: "1mo", End: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)}
	history, err := h.FetchPrices(context.Background(), []string{"BTC-USD"}, lookback)
	require.NoError(t, err)
	require.Len(t, history.Series["BTC-USD"], 2)
	assert.Equal(t, "history", h.Name())
}

func TestFetchPrices_QueryError(t *testing.T) {
	db, h := setupHistoryDB(t)
	_, err := db.Exec("DROP TABLE daily_prices")
	require.NoError(t, err)

	_, err = h.FetchPrices(context.Background(), []string{"AAPL"}, domain.Lookback{Range: "1y"})
	assert.Error(t, err)
}
