package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	apperrors "github.com/zatekoja/voiceshop/backend/pkg/errors"
)

func TestRateLimiter_RejectsPastLimit(t *testing.T) {
	limiter := services.NewRateLimiter(newMemCache(), 2, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, testUser))
	require.NoError(t, limiter.Allow(ctx, testUser))

	err := limiter.Allow(ctx, testUser)
	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeQuotaExceeded, appErr.Type)
	assert.Equal(t, 2, appErr.Limit)

	assert.NoError(t, limiter.Allow(ctx, "user-2"), "limits are per user")
}

type failingCache struct{ *memCache }

func (failingCache) Increment(ctx context.Context, key string, expirationSeconds int) (int64, error) {
	return 0, errors.New("redis down")
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	limiter := services.NewRateLimiter(failingCache{newMemCache()}, 1, time.Minute)
	for i := 0; i < 3; i++ {
		assert.NoError(t, limiter.Allow(context.Background(), testUser))
	}
}

func TestRateLimiter_DisabledAndNil(t *testing.T) {
	var nilLimiter *services.RateLimiter
	assert.NoError(t, nilLimiter.Allow(context.Background(), testUser))

	disabled := services.NewRateLimiter(newMemCache(), 0, time.Minute)
	assert.NoError(t, disabled.Allow(context.Background(), testUser))
	assert.Equal(t, time.Minute, disabled.Window())
}
