// Package clientdata provides persistent caching for market data provider responses.
// Entries are stored as msgpack blobs with expiration timestamps for cache-first behavior.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// TablePriceHistory holds cached provider price histories in cache.db
const TablePriceHistory = "price_history"

// Entry describes a cached row without its payload
type Entry struct {
	Key       string
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its TTL
func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Usable reports whether the entry may still be served as a stale fallback
func (e Entry) Usable(now time.Time, maxStale time.Duration) bool {
	return now.Before(e.ExpiresAt.Add(maxStale))
}

// Repository provides cache operations for price histories.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Store saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	now := r.now()
	_, err = r.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO price_history (cache_key, data, fetched_at, expires_at) VALUES (?, ?, ?, ?)",
		key, blob, now.Unix(), now.Add(ttl).Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store data in %s: %w", TablePriceHistory, err)
	}

	return nil
}

// GetIfFresh decodes the entry into dst only if expires_at > now.
// Returns false if the key doesn't exist or the entry has expired.
// Use Get() to retrieve stale data as a fallback when the provider fails.
func (r *Repository) GetIfFresh(ctx context.Context, key string, dst interface{}) (bool, error) {
	entry, found, err := r.Get(ctx, key, dst)
	if err != nil || !found {
		return false, err
	}
	return entry.Fresh(r.now()), nil
}

// Get decodes the entry into dst regardless of expiration status.
// The returned Entry lets callers decide whether stale data is acceptable.
func (r *Repository) Get(ctx context.Context, key string, dst interface{}) (Entry, bool, error) {
	var (
		blob               []byte
		fetchedAt, expires int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT data, fetched_at, expires_at FROM price_history WHERE cache_key = ?",
		key,
	).Scan(&blob, &fetchedAt, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to get data from %s: %w", TablePriceHistory, err)
	}

	if err := msgpack.Unmarshal(blob, dst); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode cached entry %s: %w", key, err)
	}

	return Entry{
		Key:       key,
		FetchedAt: time.Unix(fetchedAt, 0),
		ExpiresAt: time.Unix(expires, 0),
	}, true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM price_history WHERE cache_key = ?", key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", TablePriceHistory, err)
	}
	return nil
}

// DeleteExpired removes all rows that expired more than grace ago.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := r.now().Add(-grace).Unix()

	result, err := r.db.ExecContext(ctx, "DELETE FROM price_history WHERE expires_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", TablePriceHistory, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", TablePriceHistory, err)
	}
	return deleted, nil
}

// Count returns the number of cached entries
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM price_history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", TablePriceHistory, err)
	}
	return n, nil
}
