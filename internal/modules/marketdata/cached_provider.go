// Package marketdata assembles the market data provider used by the engine.
package marketdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/clientdata"
	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// sharedFetchTimeout bounds a provider call that no single caller owns
const sharedFetchTimeout = 2 * time.Minute

// CachedProvider puts the price cache in front of another provider.
//
// Staleness policy:
//   - entries younger than the TTL are served without calling the provider
//   - only complete responses (no missing assets) are stored
//   - when the provider fails, an entry at most maxStale past its expiry is served instead
//
// Concurrent misses for the same key share a single provider call. The shared call is
// detached from the caller that started it, so one abandoned request does not fail the others.
type CachedProvider struct {
	inner    domain.MarketDataProvider
	repo     *clientdata.Repository
	ttl      time.Duration
	maxStale time.Duration
	group    singleflight.Group
	now      func() time.Time
	log      zerolog.Logger
}

// NewCachedProvider wraps inner with the price cache
func NewCachedProvider(inner domain.MarketDataProvider, repo *clientdata.Repository, ttl, maxStale time.Duration, log zerolog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = clientdata.TTLPriceHistory
	}
	if maxStale < 0 {
		maxStale = 0
	}
	return &CachedProvider{
		inner:    inner,
		repo:     repo,
		ttl:      ttl,
		maxStale: maxStale,
		now:      time.Now,
		log:      log.With().Str("component", "price_cache").Str("provider", inner.Name()).Logger(),
	}
}

// Name reports the wrapped provider
func (p *CachedProvider) Name() string {
	return p.inner.Name()
}

// CacheKey identifies an (asset set, lookback) pair. Asset order does not matter.
func CacheKey(assets []string, lookback domain.Lookback) string {
	sorted := make([]string, len(assets))
	for i, a := range assets {
		sorted[i] = strings.ToUpper(strings.TrimSpace(a))
	}
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])[:16] + ":" + lookback.Key()
}

// FetchPrices serves from the cache when possible and otherwise calls the wrapped provider
func (p *CachedProvider) FetchPrices(ctx context.Context, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	key := CacheKey(assets, lookback)

	var cached domain.PriceHistory
	fresh, err := p.repo.GetIfFresh(ctx, key, &cached)
	if err != nil {
		p.log.Warn().Err(err).Str("key", key).Msg("Failed to read price cache")
	} else if fresh && cached.Complete(assets) {
		p.log.Debug().Str("key", key).Msg("Cache hit")
		return &cached, nil
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		return p.fetchAndStore(fetchCtx, key, assets, lookback)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			p.log.Debug().Str("key", key).Msg("Shared in-flight fetch")
		}
		return res.Val.(*domain.PriceHistory), nil
	}
}

func (p *CachedProvider) fetchAndStore(ctx context.Context, key string, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	history, err := p.inner.FetchPrices(ctx, assets, lookback)
	if err != nil {
		if stale, ok := p.staleFallback(ctx, key, assets); ok {
			p.log.Warn().
				Err(err).
				Str("key", key).
				Strs("assets", assets).
				Msg("Provider failed, using stale cached prices")
			return stale, nil
		}
		return nil, err
	}

	if history.Complete(assets) {
		if err := p.repo.Store(ctx, key, history, p.ttl); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("Failed to cache price history")
		}
	} else {
		p.log.Debug().
			Str("key", key).
			Int("missing", len(history.Missing)).
			Msg("Incomplete response not cached")
	}

	return history, nil
}

// staleFallback returns an expired entry that is still within the max-stale horizon
func (p *CachedProvider) staleFallback(ctx context.Context, key string, assets []string) (*domain.PriceHistory, bool) {
	var cached domain.PriceHistory
	entry, found, err := p.repo.Get(ctx, key, &cached)
	if err != nil || !found {
		return nil, false
	}
	if !entry.Usable(p.now(), p.maxStale) || !cached.Complete(assets) {
		p.log.Debug().
			Str("key", key).
			Time("expired_at", entry.ExpiresAt).
			Msg("Cached prices too old to serve")
		return nil, false
	}
	return &cached, true
}
