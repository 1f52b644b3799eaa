package cache

import (
	"context"
	"sync"
	"time"

	"github.com/billingapp/backend/internal/domain/billing"
)

// InMemoryRecordLock implements billing.RecordLock with a process-local map.
// This is suitable for single-instance deployments and tests; distributed
// deployments need the Redis implementation.
type InMemoryRecordLock struct {
	mu    sync.Mutex
	held  map[string]lockEntry
	gen   uint64
	clock func() time.Time
}

// lockEntry records who holds a key. The generation plays the role of the
// Redis lock token: release only frees the entry it acquired, never a
// successor's.
type lockEntry struct {
	expiry time.Time
	gen    uint64
}

// Ensure InMemoryRecordLock implements billing.RecordLock
var _ billing.RecordLock = (*InMemoryRecordLock)(nil)

// NewInMemoryRecordLock creates a new in-memory record lock
func NewInMemoryRecordLock() *InMemoryRecordLock {
	return &InMemoryRecordLock{
		held:  make(map[string]lockEntry),
		clock: time.Now,
	}
}

// Acquire takes the lock for key. An expired entry counts as free, so a
// crashed holder cannot block the key forever. A holder whose TTL lapsed
// before it released holds a stale generation; its release is a no-op once
// another worker has re-acquired the key.
func (l *InMemoryRecordLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if entry, ok := l.held[key]; ok && entry.expiry.After(now) {
		return func() {}, false, nil
	}
	l.gen++
	gen := l.gen
	l.held[key] = lockEntry{expiry: now.Add(ttl), gen: gen}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if entry, ok := l.held[key]; ok && entry.gen == gen {
				delete(l.held, key)
			}
		})
	}
	return release, true, nil
}
