// Package testutil provides shared test utilities and mocks for unit testing.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStoreUnavailable is returned by MockStore while failure mode is on.
var ErrStoreUnavailable = errors.New("mock store unavailable")

// MockStore is an in-memory ratelimit.Store with a switchable failure
// mode, for exercising fallback and degraded paths without a real
// backend.
type MockStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	expiries map[string]time.Time
	failing  bool
	closed   bool

	// IncrementCalls counts Increment invocations, including failed ones.
	IncrementCalls int

	// OnIncrement, when set, is invoked with the key before counting.
	OnIncrement func(key string)
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		counts:   make(map[string]int64),
		expiries: make(map[string]time.Time),
	}
}

// SetFailing switches failure mode on or off.
func (m *MockStore) SetFailing(failing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = failing
}

// Get retrieves the current count for a key.
func (m *MockStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return 0, time.Time{}, ErrStoreUnavailable
	}

	expiry, ok := m.expiries[key]
	if !ok || time.Now().After(expiry) {
		return 0, time.Time{}, nil
	}

	return m.counts[key], expiry, nil
}

// Increment atomically increments the counter for a key.
func (m *MockStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IncrementCalls++
	if m.OnIncrement != nil {
		m.OnIncrement(key)
	}

	if m.failing {
		return 0, ErrStoreUnavailable
	}

	now := time.Now()
	expiry, ok := m.expiries[key]
	if !ok || now.After(expiry) {
		m.counts[key] = 1
		m.expiries[key] = now.Add(expiration)
		return 1, nil
	}

	m.counts[key]++
	return m.counts[key], nil
}

// Reset clears the counter for a key.
func (m *MockStore) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failing {
		return ErrStoreUnavailable
	}

	delete(m.counts, key)
	delete(m.expiries, key)
	return nil
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

// Count returns the stored count for a key, ignoring expiry.
func (m *MockStore) Count(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.counts[key]
}
