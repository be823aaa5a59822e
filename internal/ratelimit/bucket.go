package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketStore keeps a token bucket per key. Buckets refill at a
// fixed rate and absorb bursts up to their capacity, which makes this
// the right shape for smoothing traffic rather than enforcing hard
// window quotas. Used by the burst-guard middleware in front of the
// windowed tier checks.
type TokenBucketStore struct {
	mu        sync.Mutex
	buckets   map[string]*bucketEntry
	rate      rate.Limit
	burst     int
	maxIdle   time.Duration
	lastSweep time.Time
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketStore creates a store whose buckets refill at perSecond
// tokens per second with the given burst capacity.
func NewTokenBucketStore(perSecond float64, burst int) *TokenBucketStore {
	if burst <= 0 {
		burst = 1
	}

	return &TokenBucketStore{
		buckets:   make(map[string]*bucketEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		maxIdle:   10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Allow consumes one token from the bucket for key, creating a full
// bucket on first sight of the key.
func (s *TokenBucketStore) Allow(key string) bool {
	return s.AllowN(key, 1)
}

// AllowN consumes n tokens from the bucket for key.
func (s *TokenBucketStore) AllowN(key string, n int) bool {
	s.mu.Lock()

	now := time.Now()
	e, exists := s.buckets[key]
	if !exists {
		e = &bucketEntry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.buckets[key] = e
	}
	e.lastSeen = now

	// Piggyback an idle sweep on checks so buckets for one-off keys do
	// not accumulate forever.
	if now.Sub(s.lastSweep) > s.maxIdle {
		for k, b := range s.buckets {
			if now.Sub(b.lastSeen) > s.maxIdle {
				delete(s.buckets, k)
			}
		}
		s.lastSweep = now
	}

	limiter := e.limiter
	s.mu.Unlock()

	return limiter.AllowN(now, n)
}

// Len returns the number of tracked buckets.
func (s *TokenBucketStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buckets)
}
