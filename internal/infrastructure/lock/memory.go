// Package lock serializes pipeline runs per product identifier.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sheetlens/backend/internal/domain"
)

// pollInterval is how often a waiting Acquire retries
const pollInterval = 50 * time.Millisecond

// lockEntry is a held lock with its owner token and expiration
type lockEntry struct {
	Token      string
	Expiration time.Time
}

// MemoryLock is a thread-safe in-process keyed lock with TTL support.
// Entries past their TTL may be taken over by another caller.
type MemoryLock struct {
	data  map[string]lockEntry
	mutex sync.Mutex
	done  chan struct{}
	once  sync.Once
}

// NewMemoryLock creates a new in-memory lock
func NewMemoryLock() *MemoryLock {
	l := &MemoryLock{
		data: make(map[string]lockEntry),
		done: make(chan struct{}),
	}

	// Start cleanup goroutine to remove expired entries every minute
	go l.cleanupExpired(time.Minute)

	return l
}

// Acquire blocks until key is free or ctx ends
func (l *MemoryLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if l.tryAcquire(key, token, ttl) {
			return func() { l.release(key, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *MemoryLock) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := time.Now()
	if entry, exists := l.data[key]; exists && now.Before(entry.Expiration) {
		return false
	}
	l.data[key] = lockEntry{Token: token, Expiration: now.Add(ttl)}
	return true
}

// release removes the entry only if it is still owned by token
func (l *MemoryLock) release(key, token string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if entry, exists := l.data[key]; exists && entry.Token == token {
		delete(l.data, key)
	}
}

// cleanupExpired removes expired entries periodically until Close
func (l *MemoryLock) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.mutex.Lock()
			now := time.Now()
			for key, entry := range l.data {
				if now.After(entry.Expiration) {
					delete(l.data, key)
				}
			}
			l.mutex.Unlock()
		}
	}
}

// Size returns the number of held locks (for debugging/monitoring)
func (l *MemoryLock) Size() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.data)
}

// Close stops the cleanup goroutine
func (l *MemoryLock) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
