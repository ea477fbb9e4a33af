package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
)

// MemoryLocker serializes work per key inside one process
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

var _ providers.Locker = (*MemoryLocker)(nil)

// Lock waits for the key to be released or ctx to end. ttl is ignored: a
// holder in the same process always releases.
func (l *MemoryLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", providers.ErrLockNotAcquired, key)
		case <-wait:
		}
	}
}
