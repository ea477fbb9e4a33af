package services

import (
	"context"
	"fmt"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

// RateLimiter is a fixed-window per-user limiter backed by the cache counter
type RateLimiter struct {
	cache  providers.CacheProvider
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a limiter allowing limit calls per window. A
// non-positive limit disables limiting.
func NewRateLimiter(cache providers.CacheProvider, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{cache: cache, limit: limit, window: window, now: time.Now}
}

// Allow counts one call for the user and returns QuotaExceeded past the limit.
// A failing cache backend lets the call through.
func (l *RateLimiter) Allow(ctx context.Context, userID string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	bucket := l.now().Truncate(l.window).Unix()
	key := fmt.Sprintf("ratelimit:search:%s:%d", userID, bucket)

	count, err := l.cache.Increment(ctx, key, ttlSeconds(l.window))
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("user_id", userID).Msg("Rate limiter unavailable, allowing request")
		return nil
	}
	if count > int64(l.limit) {
		return apperrors.NewQuotaExceeded("search rate limit reached", l.limit)
	}
	return nil
}

// Window returns the limiter window
func (l *RateLimiter) Window() time.Duration {
	return l.window
}
