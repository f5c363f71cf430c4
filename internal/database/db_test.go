package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string, profile DatabaseProfile) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "nested", name+".db"),
		Profile: profile,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_CreatesDirectoryAndDefaultsProfile(t *testing.T) {
	db := openTestDB(t, "history", "")

	assert.Equal(t, ProfileStandard, db.Profile())
	assert.Equal(t, "history", db.Name())
	assert.True(t, filepath.IsAbs(db.Path()))
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate(t *testing.T) {
	tests := []struct {
		name  string
		table string
	}{
		{NameHistory, "daily_prices"},
		{NameCache, "price_history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openTestDB(t, tt.name, ProfileCache)
			require.NoError(t, db.Migrate())
			// Applying twice is harmless
			require.NoError(t, db.Migrate())

			var count int
			err := db.Conn().QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tt.table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count)
		})
	}
}

func TestMigrate_UnknownDatabaseIsNoop(t *testing.T) {
	db := openTestDB(t, "scratch", ProfileStandard)
	assert.NoError(t, db.Migrate())
}

func TestWithTransaction(t *testing.T) {
	db := openTestDB(t, NameHistory, ProfileStandard)
	require.NoError(t, db.Migrate())

	count := func() int {
		var n int
		require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM daily_prices").Scan(&n))
		return n
	}

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO daily_prices (symbol, date, close) VALUES ('AAPL', '2024-01-02', 185.6)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count())

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO daily_prices (symbol, date, close) VALUES ('AAPL', '2024-01-03', 184.2)")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, count())

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, _ = tx.Exec("INSERT INTO daily_prices (symbol, date, close) VALUES ('AAPL', '2024-01-04', 181.9)")
		panic("unexpected")
	})
	assert.ErrorContains(t, err, "panic in transaction")
	assert.Equal(t, 1, count())

	assert.Error(t, WithTransaction(nil, func(*sql.Tx) error { return nil }))
}

func TestGetStatsAndCheckpoint(t *testing.T) {
	db := openTestDB(t, NameCache, ProfileCache)
	require.NoError(t, db.Migrate())

	require.NoError(t, db.WALCheckpoint(""))
	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}

func TestBuildConnectionString(t *testing.T) {
	assert.Contains(t, buildConnectionString("/tmp/a.db", ProfileCache), "/tmp/a.db?_pragma=journal_mode(WAL)&_pragma=synchronous(OFF)")
	assert.Contains(t, buildConnectionString("file:x?mode=memory", ProfileStandard), "file:x?mode=memory&_pragma=journal_mode(WAL)")
}
