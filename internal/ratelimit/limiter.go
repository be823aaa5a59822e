package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rs/zerolog/log"
)

// Window pairs a duration with the label used in counter keys.
type Window struct {
	Label    string
	Duration time.Duration
}

// The three windows every check evaluates. They are fixed; per-call
// window configuration is deliberately not supported.
var checkWindows = [3]Window{
	{Label: "minute", Duration: time.Minute},
	{Label: "hour", Duration: time.Hour},
	{Label: "day", Duration: 24 * time.Hour},
}

// Decision is the combined outcome of one Check. It is built fresh per
// call and never persisted.
type Decision struct {
	MinuteLimited bool `json:"minute_limited"`
	HourLimited   bool `json:"hour_limited"`
	DayLimited    bool `json:"day_limited"`
	IsLimited     bool `json:"is_limited"`
}

// RetryAfter returns the duration of the narrowest limited window,
// which is the longest a caller could have to wait for that window to
// open. Zero when the decision is not limited.
func (d Decision) RetryAfter() time.Duration {
	switch {
	case d.MinuteLimited:
		return time.Minute
	case d.HourLimited:
		return time.Hour
	case d.DayLimited:
		return 24 * time.Hour
	}
	return 0
}

// LimitedWindow names the narrowest limited window of the decision,
// empty when it allows.
func (d Decision) LimitedWindow() string {
	switch {
	case d.MinuteLimited:
		return "minute"
	case d.HourLimited:
		return "hour"
	case d.DayLimited:
		return "day"
	}
	return ""
}

// WindowStatus reports the live state of one window for an identifier.
type WindowStatus struct {
	Window    string    `json:"window"`
	Limit     int64     `json:"limit"`
	Count     int64     `json:"count"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
}

// Limiter evaluates identifiers against the three fixed windows for a
// subscription tier. With a Store configured it counts through that
// backend (fixed-window semantics, shared across instances); without
// one it runs a process-local sliding-window log. Construct one Limiter
// at startup and hand it to every guarded call site; it is safe for
// concurrent use.
type Limiter struct {
	policy  TierPolicy
	store   Store
	local   *SlidingWindowStore
	timeout time.Duration
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// Store is the shared counter backend. Leave nil for local-only
	// mode, which uses an in-process sliding-window log. Wrap real
	// shared backends in a FallbackStore so outages degrade to local
	// accounting instead of surfacing errors.
	Store Store

	// Policy is the tier threshold table. The zero value selects
	// DefaultTierPolicy.
	Policy TierPolicy

	// StoreTimeout bounds each shared-store call. Zero selects
	// DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	policy := cfg.Policy
	if policy.tiers == nil {
		policy = DefaultTierPolicy()
	}

	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	return &Limiter{
		policy:  policy,
		store:   cfg.Store,
		local:   NewSlidingWindowStore(),
		timeout: timeout,
	}
}

// Check evaluates identifier against the minute, hour and day windows
// for tier. It never returns an error: unknown tiers resolve to the
// fallback tier, and backend failures degrade to local accounting.
func (l *Limiter) Check(ctx context.Context, identifier, tier string) Decision {
	return l.CheckEndpoint(ctx, identifier, "", tier)
}

// CheckEndpoint is Check with counters scoped by an endpoint label, so
// that limits on one guarded operation do not consume another's quota.
// An empty endpoint behaves exactly like Check.
func (l *Limiter) CheckEndpoint(ctx context.Context, identifier, endpoint, tier string) Decision {
	limits, known := l.policy.Limits(tier)
	if !known {
		log.Info().Str("tier", tier).Str("fallback", l.policy.Fallback()).Msg("Unknown tier, applying fallback thresholds")
	}

	hashed := HashIdentifier(identifier)
	maxes := [3]int64{limits.PerMinute, limits.PerHour, limits.PerDay}

	// All three windows are always evaluated, with no short-circuit, so
	// every window's counter advances on every check.
	var flags [3]bool
	for i, w := range checkWindows {
		flags[i] = l.windowLimited(ctx, counterKey(hashed, endpoint, w.Label), maxes[i], w.Duration)
	}

	return Decision{
		MinuteLimited: flags[0],
		HourLimited:   flags[1],
		DayLimited:    flags[2],
		IsLimited:     flags[0] || flags[1] || flags[2],
	}
}

// Status reports the live counts for identifier under tier without
// consuming any quota. In shared mode it reads through the Store; in
// local mode it counts the sliding log.
func (l *Limiter) Status(ctx context.Context, identifier, tier string) ([]WindowStatus, error) {
	limits, _ := l.policy.Limits(tier)

	hashed := HashIdentifier(identifier)
	maxes := [3]int64{limits.PerMinute, limits.PerHour, limits.PerDay}

	statuses := make([]WindowStatus, 0, len(checkWindows))
	for i, w := range checkWindows {
		key := counterKey(hashed, "", w.Label)

		var count int64
		var resetAt time.Time
		if l.store != nil {
			cctx, cancel := context.WithTimeout(ctx, l.timeout)
			c, r, err := l.store.Get(cctx, key)
			cancel()
			if err != nil {
				return nil, err
			}
			count, resetAt = c, r
		} else {
			count = l.local.Count(key, w.Duration)
		}

		remaining := maxes[i] - count
		if remaining < 0 {
			remaining = 0
		}

		statuses = append(statuses, WindowStatus{
			Window:    w.Label,
			Limit:     maxes[i],
			Count:     count,
			Remaining: remaining,
			ResetAt:   resetAt,
		})
	}

	return statuses, nil
}

// Reset clears all window counters for identifier. Endpoint-scoped
// counters are left alone; they expire on their own.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	hashed := HashIdentifier(identifier)

	for _, w := range checkWindows {
		key := counterKey(hashed, "", w.Label)
		l.local.Reset(key)
		if l.store != nil {
			cctx, cancel := context.WithTimeout(ctx, l.timeout)
			err := l.store.Reset(cctx, key)
			cancel()
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (l *Limiter) windowLimited(ctx context.Context, key string, max int64, window time.Duration) bool {
	if l.store == nil {
		return !l.local.Allow(key, window, max)
	}

	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	count, err := l.store.Increment(cctx, key, window)
	cancel()
	if err != nil {
		// A store without fallback wrapping failed; keep accounting
		// locally rather than surfacing the error or waving traffic
		// through.
		log.Warn().Err(err).Str("key", key).Msg("Rate limit store check failed, using local accounting")
		return !l.local.Allow(key, window, max)
	}

	return count > max
}

// HashIdentifier derives the storage key stem for an identifier.
// Hashing keeps raw user IDs and addresses out of the counter store and
// bounds key length. Truncated SHA-256, 32 hex characters per key.
func HashIdentifier(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:16])
}

func counterKey(hashed, endpoint, windowLabel string) string {
	if endpoint == "" {
		return hashed + ":" + windowLabel
	}
	return hashed + ":" + endpoint + ":" + windowLabel
}
