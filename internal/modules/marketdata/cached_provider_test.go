package marketdata

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/domain"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cacheSchema = `
CREATE TABLE price_history (cache_key TEXT PRIMARY KEY, data BLOB NOT NULL, fetched_at INTEGER NOT NULL, expires_at INTEGER NOT NULL);
`

// stubProvider returns a fixed history or error and counts calls
type stubProvider struct {
	history *domain.PriceHistory
	err     error
	gate    chan struct{}
	calls   atomic.Int32
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) FetchPrices(ctx context.Context, _ []string, _ domain.Lookback) (*domain.PriceHistory, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.history, nil
}

func setupCache(t *testing.T) *clientdata.Repository {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(cacheSchema)
	require.NoError(t, err)
	return clientdata.NewRepository(db)
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func completeHistory() *domain.PriceHistory {
	h := domain.NewPriceHistory()
	h.Add("AAPL", domain.PriceSeries{{Date: day(2), Price: 185.6}, {Date: day(3), Price: 184.2}})
	h.Add("MSFT", domain.PriceSeries{{Date: day(2), Price: 370.9}, {Date: day(3), Price: 370.6}})
	return h
}

var (
	basket = []string{"AAPL", "MSFT"}
	year   = domain.Lookback{Range: "1y"}
)

func TestCacheKey(t *testing.T) {
	a := CacheKey([]string{"MSFT", "aapl"}, year)
	b := CacheKey([]string{"AAPL", "MSFT"}, year)
	assert.Equal(t, a, b, "order and case do not matter")
	assert.Len(t, a, 16+len(":1y"))
	assert.NotEqual(t, a, CacheKey([]string{"AAPL", "MSFT"}, domain.Lookback{Range: "6mo"}))
	assert.NotEqual(t, a, CacheKey([]string{"AAPL", "GOOG"}, year))
	assert.Contains(t, CacheKey(basket, domain.Lookback{Range: "1y", End: day(5)}), ":1y@2024-01-05")
}

func TestCachedProvider_FreshHitSkipsProvider(t *testing.T) {
	inner := &stubProvider{history: completeHistory()}
	p := NewCachedProvider(inner, setupCache(t), time.Hour, time.Hour, zerolog.Nop())

	first, err := p.FetchPrices(context.Background(), basket, year)
	require.NoError(t, err)
	second, err := p.FetchPrices(context.Background(), []string{"MSFT", "AAPL"}, year)
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, "stub", p.Name())
	require.Len(t, second.Series["AAPL"], 2)
	assert.Equal(t, first.Series["AAPL"][1].Price, second.Series["AAPL"][1].Price)
	assert.True(t, first.Series["AAPL"][0].Date.Equal(second.Series["AAPL"][0].Date))
}

func TestCachedProvider_IncompleteResponsesAreNotStored(t *testing.T) {
	h := completeHistory()
	h.MarkMissing("MSFT", "unknown symbol")
	inner := &stubProvider{history: h}
	p := NewCachedProvider(inner, setupCache(t), time.Hour, time.Hour, zerolog.Nop())

	for i := 0; i < 2; i++ {
		got, err := p.FetchPrices(context.Background(), basket, year)
		require.NoError(t, err)
		assert.Equal(t, "unknown symbol", got.Missing["MSFT"])
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestCachedProvider_StaleFallback(t *testing.T) {
	upstream := errors.New("yahoo unavailable")

	tests := []struct {
		name     string
		storeTTL time.Duration
		wantErr  bool
	}{
		{"recently expired entry is served", -time.Hour, false},
		{"entry past max stale is not served", -100 * time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := setupCache(t)
			require.NoError(t, repo.Store(context.Background(), CacheKey(basket, year), completeHistory(), tt.storeTTL))

			inner := &stubProvider{err: upstream}
			p := NewCachedProvider(inner, repo, time.Hour, 72*time.Hour, zerolog.Nop())

			got, err := p.FetchPrices(context.Background(), basket, year)
			assert.Equal(t, int32(1), inner.calls.Load(), "expired entries always trigger a fetch")
			if tt.wantErr {
				assert.ErrorIs(t, err, upstream)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Complete(basket))
		})
	}
}

func TestCachedProvider_ErrorWithoutCache(t *testing.T) {
	upstream := errors.New("timeout")
	p := NewCachedProvider(&stubProvider{err: upstream}, setupCache(t), time.Hour, time.Hour, zerolog.Nop())

	_, err := p.FetchPrices(context.Background(), basket, year)
	assert.ErrorIs(t, err, upstream)
}

func TestCachedProvider_ExpiredEntryIsRefreshed(t *testing.T) {
	repo := setupCache(t)
	old := domain.NewPriceHistory()
	old.Add("AAPL", domain.PriceSeries{{Date: day(2), Price: 1}})
	old.Add("MSFT", domain.PriceSeries{{Date: day(2), Price: 1}})
	require.NoError(t, repo.Store(context.Background(), CacheKey(basket, year), old, -time.Minute))

	inner := &stubProvider{history: completeHistory()}
	p := NewCachedProvider(inner, repo, time.Hour, time.Hour, zerolog.Nop())

	got, err := p.FetchPrices(context.Background(), basket, year)
	require.NoError(t, err)
	assert.Equal(t, 185.6, got.Series["AAPL"][0].Price)

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCachedProvider_DedupesConcurrentMisses(t *testing.T) {
	inner := &stubProvider{history: completeHistory(), gate: make(chan struct{})}
	p := NewCachedProvider(inner, setupCache(t), time.Hour, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = p.FetchPrices(context.Background(), basket, year)
		}()
	}

	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(inner.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedProvider_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	inner := &stubProvider{history: completeHistory(), gate: make(chan struct{})}
	p := NewCachedProvider(inner, setupCache(t), time.Hour, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.FetchPrices(ctx, basket, year)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return inner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		history *domain.PriceHistory
		err     error
	}
	second := make(chan result, 1)
	go func() {
		h, err := p.FetchPrices(context.Background(), basket, year)
		second <- result{h, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(inner.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.history.Complete(basket))
	assert.Equal(t, int32(1), inner.calls.Load())

	var cached domain.PriceHistory
	fresh, err := p.repo.GetIfFresh(context.Background(), CacheKey(basket, year), &cached)
	require.NoError(t, err)
	assert.True(t, fresh, "shared fetch still stored its result")
}
