package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultStoreTimeout bounds a shared-store round trip so a slow
// backend cannot stall the request path.
const DefaultStoreTimeout = 250 * time.Millisecond

// FallbackStore wraps a shared Store and keeps checks answerable when
// the backend is down. Every call is first tried against the shared
// store under a short timeout; on failure the check is served from an
// in-process MemoryStore instead, trading global accuracy for
// availability. The shared store is retried on the very next call, so
// recovery needs no health-check loop. Limits are never dropped to
// unlimited during an outage.
type FallbackStore struct {
	shared   Store
	local    *MemoryStore
	timeout  time.Duration
	degraded atomic.Bool
	onError  func()
}

// NewFallbackStore wraps shared with local fallback accounting.
// A timeout of zero selects DefaultStoreTimeout.
func NewFallbackStore(shared Store, timeout time.Duration) *FallbackStore {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	return &FallbackStore{
		shared:  shared,
		local:   NewMemoryStore(10 * time.Minute),
		timeout: timeout,
	}
}

// Get retrieves the count from the shared store, or from the local
// fallback while the shared store is unreachable.
func (s *FallbackStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, expiresAt, err := s.shared.Get(cctx, key)
	if err != nil {
		s.markDegraded(err)
		return s.local.Get(ctx, key)
	}

	s.markHealthy()
	return count, expiresAt, nil
}

// Increment counts against the shared store, or against the local
// fallback while the shared store is unreachable. It never returns an
// error: the local MemoryStore cannot fail.
func (s *FallbackStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.shared.Increment(cctx, key, expiration)
	if err != nil {
		s.markDegraded(err)
		return s.local.Increment(ctx, key, expiration)
	}

	s.markHealthy()
	return count, nil
}

// Reset clears the key in both stores so a reset during an outage does
// not resurrect stale local state after recovery.
func (s *FallbackStore) Reset(ctx context.Context, key string) error {
	_ = s.local.Reset(ctx, key)

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.shared.Reset(cctx, key); err != nil {
		s.markDegraded(err)
		return nil
	}

	s.markHealthy()
	return nil
}

// Close closes both stores.
func (s *FallbackStore) Close() error {
	_ = s.local.Close()
	return s.shared.Close()
}

// Degraded reports whether the last shared-store call failed.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

// OnError registers fn to be invoked on every shared-store failure,
// for instrumentation. Set it once at startup, before the store serves
// traffic.
func (s *FallbackStore) OnError(fn func()) {
	s.onError = fn
}

func (s *FallbackStore) markDegraded(err error) {
	if s.onError != nil {
		s.onError()
	}
	if s.degraded.CompareAndSwap(false, true) {
		log.Warn().Err(err).Msg("Shared rate limit store unreachable, serving from local fallback")
	}
}

func (s *FallbackStore) markHealthy() {
	if s.degraded.CompareAndSwap(true, false) {
		log.Info().Msg("Shared rate limit store reachable again")
	}
}
