package dispatch

import (
	"context"
	"sync"
	"time"
)

// Lock serializes dispatch runs system-wide. Acquire returns false, not an
// error, when another run holds the lock. The TTL bounds how long a crashed
// holder can wedge the pipeline: an expired lock is claimable by the next
// run. Production uses the Postgres lease (storage/postgres.LeaseLock);
// MemoryLock covers single-process deployments and tests.
type Lock interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// MemoryLock is an in-process TTL lock.
type MemoryLock struct {
	mu        sync.Mutex
	held      bool
	expiresAt time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{}
}

func (l *MemoryLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.held && now.Before(l.expiresAt) {
		return false, nil
	}
	l.held = true
	l.expiresAt = now.Add(ttl)
	return true, nil
}

func (l *MemoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	return nil
}
