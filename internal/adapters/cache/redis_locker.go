package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	redisclient "github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
)

const lockPollInterval = 25 * time.Millisecond

// releaseScript deletes the lock only when it still carries our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes cross-process locks with SET NX PX
type RedisLocker struct {
	client *redisclient.Client
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redisclient.Client) providers.Locker {
	return &RedisLocker{client: client}
}

// Lock polls until the key is free or ctx ends. The ttl bounds how long a
// crashed holder can block others.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	rdb := l.client.Client()

	for {
		ok, err := rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", providers.ErrLockNotAcquired, key)
		case <-time.After(lockPollInterval):
		}
	}

	release := func() {
		// The caller's ctx may already be done; release on a fresh one.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, rdb, []string{key}, token).Err(); err != nil {
			observability.GetLogger().Warn().Err(err).Str("key", key).Msg("Failed to release lock")
		}
	}
	return release, nil
}
