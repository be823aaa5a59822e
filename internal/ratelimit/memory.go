package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map of fixed-window
// counters. It is the default backend for single-instance deployments
// and the fallback target when a shared backend is unreachable. State is
// not shared across instances.
type MemoryStore struct {
	data       map[string]*counterEntry
	mu         sync.RWMutex
	gcInterval time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory counter store. gcInterval controls
// how often expired entries are swept; lookups already ignore expired
// entries, the sweep only bounds memory.
func NewMemoryStore(gcInterval time.Duration) *MemoryStore {
	if gcInterval <= 0 {
		gcInterval = 10 * time.Minute
	}

	store := &MemoryStore{
		data:       make(map[string]*counterEntry),
		gcInterval: gcInterval,
		stopCh:     make(chan struct{}),
	}

	go store.gc()

	return store
}

// Get retrieves the current count for a key.
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.data[key]
	if !exists || time.Now().After(e.expiresAt) {
		return 0, time.Time{}, nil
	}

	return e.count, e.expiresAt, nil
}

// Increment atomically increments the counter for a key, creating or
// restarting the window as needed.
func (s *MemoryStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, exists := s.data[key]

	if !exists || now.After(e.expiresAt) {
		s.data[key] = &counterEntry{
			count:     1,
			expiresAt: now.Add(expiration),
		}
		return 1, nil
	}

	e.count++
	return e.count, nil
}

// Reset clears the counter for a key.
func (s *MemoryStore) Reset(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Close stops the garbage collection goroutine. Safe to call twice.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

func (s *MemoryStore) gc() {
	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, key)
		}
	}
}
