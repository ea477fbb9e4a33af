package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
)

// DefaultMemorySize bounds the in-process cache when no size is given
const DefaultMemorySize = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is an in-process CacheProvider on a bounded LRU. It backs
// single-instance deployments and tests that run without Redis.
type MemoryAdapter struct {
	mu    sync.Mutex
	items *lru.Cache[string, memoryEntry]
	now   func() time.Time
}

// NewMemoryAdapter creates an LRU cache holding at most size keys
func NewMemoryAdapter(size int) (*MemoryAdapter, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	items, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryAdapter{items: items, now: time.Now}, nil
}

// WithClock replaces the clock used for expiry
func (a *MemoryAdapter) WithClock(now func() time.Time) *MemoryAdapter {
	a.now = now
	return a
}

func (a *MemoryAdapter) load(key string) (memoryEntry, bool) {
	entry, ok := a.items.Get(key)
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !a.now().Before(entry.expiresAt) {
		a.items.Remove(key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (a *MemoryAdapter) expiry(expirationSeconds int) time.Time {
	if expirationSeconds <= 0 {
		return time.Time{}
	}
	return a.now().Add(time.Duration(expirationSeconds) * time.Second)
}

// Get retrieves a value from cache
func (a *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.load(key)
	if !ok {
		return nil, providers.ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores a value in cache with expiration
func (a *MemoryAdapter) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items.Add(key, memoryEntry{value: append([]byte(nil), value...), expiresAt: a.expiry(expirationSeconds)})
	return nil
}

// Delete removes a value from cache
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items.Remove(key)
	return nil
}

// Exists checks if a key exists in cache
func (a *MemoryAdapter) Exists(ctx context.Context, key string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.load(key)
	return ok, nil
}

// Increment bumps a counter; the first increment sets its expiration
func (a *MemoryAdapter) Increment(ctx context.Context, key string, expirationSeconds int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.load(key)
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(string(entry.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	} else {
		entry.expiresAt = a.expiry(expirationSeconds)
	}
	n++
	entry.value = []byte(strconv.FormatInt(n, 10))
	a.items.Add(key, entry)
	return n, nil
}
