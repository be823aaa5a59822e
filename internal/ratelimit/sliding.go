package ratelimit

import (
	"sync"
	"time"
)

// slidingSweepInterval is how often Allow piggybacks a full sweep that
// drops keys whose every entry has expired.
const slidingSweepInterval = 10 * time.Minute

// SlidingWindowStore is an in-process sliding-window log. Each key keeps
// the timestamps of its allowed events; a check prunes entries older
// than the window and admits the event only if capacity remains. Unlike
// the fixed-window Store backends it has no boundary burst, and denied
// attempts never consume a slot, so a caller hammering a full window
// does not push its own recovery further out.
//
// Timestamps are time.Time values taken from time.Now, so comparisons
// use Go's monotonic clock reading and are immune to wall-clock
// adjustments.
type SlidingWindowStore struct {
	mu        sync.Mutex
	records   map[string]*slidingRecord
	lastSweep time.Time
}

type slidingRecord struct {
	window time.Duration
	stamps []time.Time
}

// NewSlidingWindowStore creates an empty sliding-window log.
func NewSlidingWindowStore() *SlidingWindowStore {
	return &SlidingWindowStore{
		records:   make(map[string]*slidingRecord),
		lastSweep: time.Now(),
	}
}

// Allow reports whether an event for key fits within max events per
// window, recording it if so. max <= 0 denies every event. The prune,
// count and append run under one lock so concurrent checks for the same
// key are serialized.
func (s *SlidingWindowStore) Allow(key string, window time.Duration, max int64) bool {
	if max <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	r, ok := s.records[key]
	if !ok {
		r = &slidingRecord{}
		s.records[key] = r
	}
	r.window = window

	// Drop expired timestamps in place. Each entry is pruned exactly
	// once, so the amortized cost per event is constant.
	live := r.stamps[:0]
	for _, ts := range r.stamps {
		if now.Sub(ts) < window {
			live = append(live, ts)
		}
	}

	allowed := int64(len(live)) < max
	if allowed {
		live = append(live, now)
	}
	r.stamps = live

	if now.Sub(s.lastSweep) > slidingSweepInterval {
		s.sweep(now)
	}

	return allowed
}

// Count returns the number of live entries for key within window.
func (s *SlidingWindowStore) Count(key string, window time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return 0
	}

	now := time.Now()
	var n int64
	for _, ts := range r.stamps {
		if now.Sub(ts) < window {
			n++
		}
	}
	return n
}

// Reset clears the log for a key.
func (s *SlidingWindowStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
}

// sweep drops keys whose entries have all expired, so logs for
// identifiers that stopped sending do not accumulate. Caller holds mu.
func (s *SlidingWindowStore) sweep(now time.Time) {
	for key, r := range s.records {
		expired := true
		for _, ts := range r.stamps {
			if now.Sub(ts) < r.window {
				expired = false
				break
			}
		}
		if expired {
			delete(s.records, key)
		}
	}
	s.lastSweep = now
}
