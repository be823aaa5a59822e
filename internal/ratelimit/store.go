// Package ratelimit implements the multi-window request limiter used to
// enforce per-subscription usage quotas. It provides interchangeable
// counter backends (in-process, Redis-compatible, PostgreSQL) behind a
// common Store interface, a sliding-window log for single-instance
// deployments, and a Limiter facade that evaluates the minute/hour/day
// windows for a tier and returns a combined decision.
package ratelimit

import (
	"context"
	"time"
)

// Store is the contract for shared counter backends.
// Backends:
// - Memory: single-instance deployments, no external dependencies
// - PostgreSQL: multi-instance deployments without extra infrastructure
// - Redis: high-scale deployments (Redis, Dragonfly, Valkey, KeyDB)
//
// All Store implementations are fixed-window counters: atomic increment
// plus expiry is the only primitive that is cheap across processes. The
// classic burst at window boundaries (up to 2x the limit straddling a
// boundary) is an accepted trade-off of that algorithm; the in-process
// SlidingWindowStore does not have it.
type Store interface {
	// Get retrieves the current count and expiry for a key without
	// consuming a slot. A missing or expired key reports a zero count.
	Get(ctx context.Context, key string) (int64, time.Time, error)

	// Increment atomically increments the counter for a key. If the key
	// does not exist it is created with count=1 and the given expiration.
	// Returns the count after incrementing.
	Increment(ctx context.Context, key string, expiration time.Duration) (int64, error)

	// Reset clears the counter for a key.
	Reset(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Result is the outcome of a single-window check against a Store.
type Result struct {
	// Allowed reports whether the request fits in the current window.
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int64

	// ResetAt is when the current window expires.
	ResetAt time.Time

	// Limit is the window capacity.
	Limit int64
}

// Check increments the counter for key and evaluates it against limit.
// The counter is incremented even when the request ends up denied; that
// is inherent to the fixed-window algorithm the shared stores use.
func Check(ctx context.Context, store Store, key string, limit int64, window time.Duration) (*Result, error) {
	count, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   count <= limit,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   time.Now().Add(window),
	}

	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}
