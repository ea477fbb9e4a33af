package providers

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent
var ErrCacheMiss = errors.New("cache miss")

// CacheProvider defines the interface for caching operations
type CacheProvider interface {
	// Get retrieves a value from cache; absent keys return ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration
	Set(ctx context.Context, key string, value []byte, expirationSeconds int) error

	// Delete removes a value from cache
	Delete(ctx context.Context, key string) error

	// Exists checks if a key exists in cache
	Exists(ctx context.Context, key string) (bool, error)

	// Increment atomically adds one to a counter, creating it with the given
	// expiration when absent, and returns the new value
	Increment(ctx context.Context, key string, expirationSeconds int) (int64, error)
}

// ErrLockNotAcquired is returned when a lock could not be taken before the context ended
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker serializes work on a key across goroutines and processes
type Locker interface {
	// Lock blocks until the key is held or ctx ends. The returned func releases it.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
