package services

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/entities"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

// ResultCache maps cache keys to previously computed product sets with a fixed TTL.
// Backend failures are absorbed and reported as misses.
type ResultCache struct {
	cache   providers.CacheProvider
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics
}

// NewResultCache creates a result cache
func NewResultCache(cache providers.CacheProvider, ttl time.Duration, metrics *observability.Metrics) *ResultCache {
	return &ResultCache{
		cache:   cache,
		ttl:     ttl,
		now:     time.Now,
		metrics: metrics,
	}
}

// WithClock replaces the clock used for expiry checks
func (c *ResultCache) WithClock(now func() time.Time) *ResultCache {
	c.now = now
	return c
}

func hitCounterKey(key string) string {
	return key + ":hits"
}

// Lookup returns a snapshot of an unexpired entry. A hit increments the hit
// counter; the returned entry is never shared with the backend.
func (c *ResultCache) Lookup(ctx context.Context, key string) (*entities.CacheEntry, bool) {
	logger := observability.LoggerFromContext(ctx)

	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, providers.ErrCacheMiss) {
			logger.Warn().Err(err).Str("cache_key", key).Msg("Result cache read failed, treating as miss")
		}
		observability.RecordCacheMiss(ctx, c.metrics)
		return nil, false
	}

	var entry entities.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		observability.RecordCacheMiss(ctx, c.metrics)
		return nil, false
	}

	if !entry.IsFresh(c.now()) {
		observability.RecordCacheMiss(ctx, c.metrics)
		return nil, false
	}

	hits, err := c.cache.Increment(ctx, hitCounterKey(key), ttlSeconds(entry.ExpiresAt.Sub(c.now())))
	if err != nil {
		logger.Warn().Err(err).Str("cache_key", key).Msg("Failed to increment cache hit counter")
	} else {
		entry.HitCount = hits
	}

	observability.RecordCacheHit(ctx, c.metrics)
	return &entry, true
}

// Store inserts or overwrites an entry, resetting its expiry and hit counter
func (c *ResultCache) Store(ctx context.Context, key string, products []*entities.Product) error {
	now := c.now()
	entry := entities.CacheEntry{
		Key:       key,
		Products:  products,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.cache.Set(ctx, key, data, ttlSeconds(c.ttl)); err != nil {
		return err
	}
	return c.cache.Delete(ctx, hitCounterKey(key))
}

// HitCount returns the number of hits recorded for the current entry
func (c *ResultCache) HitCount(ctx context.Context, key string) int64 {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		return 0
	}
	var entry entities.CacheEntry
	if json.Unmarshal(data, &entry) != nil || !entry.IsFresh(c.now()) {
		return 0
	}
	raw, err := c.cache.Get(ctx, hitCounterKey(key))
	if err != nil {
		return 0
	}
	var n int64
	if json.Unmarshal(raw, &n) != nil {
		return 0
	}
	return n
}

func ttlSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}
