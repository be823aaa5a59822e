package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owaiken/os/internal/testutil"
)

func testPolicy(t *testing.T, minute, hour, day int64) TierPolicy {
	t.Helper()
	policy, err := NewTierPolicy(map[string]Limits{
		"free": {PerMinute: minute, PerHour: hour, PerDay: day},
	})
	require.NoError(t, err)
	return policy
}

func TestLimiter_LocalMode(t *testing.T) {
	ctx := context.Background()

	t.Run("burst within minute window", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 2, 10, 20)})

		first := limiter.Check(ctx, "alice", "free")
		assert.False(t, first.IsLimited)

		second := limiter.Check(ctx, "alice", "free")
		assert.False(t, second.IsLimited)

		third := limiter.Check(ctx, "alice", "free")
		assert.True(t, third.IsLimited)
		assert.True(t, third.MinuteLimited)
		assert.False(t, third.HourLimited)
		assert.False(t, third.DayLimited)
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 1, 10, 20)})

		require.False(t, limiter.Check(ctx, "userA", "free").IsLimited)
		require.True(t, limiter.Check(ctx, "userA", "free").IsLimited)

		assert.False(t, limiter.Check(ctx, "userB", "free").IsLimited)
	})

	t.Run("empty identifiers share one bucket", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 1, 10, 20)})

		require.False(t, limiter.Check(ctx, "", "free").IsLimited)
		assert.True(t, limiter.Check(ctx, "", "free").IsLimited)
	})

	t.Run("hour window limits independently of minute", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 100, 2, 20)})

		require.False(t, limiter.Check(ctx, "bob", "free").IsLimited)
		require.False(t, limiter.Check(ctx, "bob", "free").IsLimited)

		third := limiter.Check(ctx, "bob", "free")
		assert.True(t, third.IsLimited)
		assert.False(t, third.MinuteLimited)
		assert.True(t, third.HourLimited)
	})
}

func TestLimiter_UnknownTierFallsBack(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 2, 10, 20)})

	// The unknown tier gets free's thresholds: two allowed, third limited.
	assert.False(t, limiter.Check(ctx, "u1", "nonexistent_tier").IsLimited)
	assert.False(t, limiter.Check(ctx, "u1", "nonexistent_tier").IsLimited)
	assert.True(t, limiter.Check(ctx, "u1", "nonexistent_tier").IsLimited)

	// Same thresholds as an explicit free-tier caller.
	assert.False(t, limiter.Check(ctx, "u2", "free").IsLimited)
	assert.False(t, limiter.Check(ctx, "u2", "free").IsLimited)
	assert.True(t, limiter.Check(ctx, "u2", "free").IsLimited)
}

func TestLimiter_EndpointScoping(t *testing.T) {
	ctx := context.Background()
	limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 1, 10, 20)})

	require.False(t, limiter.CheckEndpoint(ctx, "carol", "transcribe", "free").IsLimited)
	assert.True(t, limiter.CheckEndpoint(ctx, "carol", "transcribe", "free").IsLimited)

	// A different endpoint label has its own counters.
	assert.False(t, limiter.CheckEndpoint(ctx, "carol", "embed", "free").IsLimited)

	// And so does the unscoped check.
	assert.False(t, limiter.Check(ctx, "carol", "free").IsLimited)
}

func TestLimiter_SharedStore(t *testing.T) {
	ctx := context.Background()

	t.Run("counts through the store", func(t *testing.T) {
		store := testutil.NewMockStore()
		limiter := NewLimiter(LimiterConfig{Store: store, Policy: testPolicy(t, 2, 10, 20)})

		assert.False(t, limiter.Check(ctx, "alice", "free").IsLimited)
		assert.False(t, limiter.Check(ctx, "alice", "free").IsLimited)
		assert.True(t, limiter.Check(ctx, "alice", "free").IsLimited)

		// Three checks, three windows each.
		assert.Equal(t, 9, store.IncrementCalls)
	})

	t.Run("fails open to local accounting", func(t *testing.T) {
		store := testutil.NewMockStore()
		limiter := NewLimiter(LimiterConfig{Store: store, Policy: testPolicy(t, 1, 10, 20)})

		store.SetFailing(true)

		// No error and no unlimited traffic: the local log enforces the
		// same thresholds while the store is down.
		assert.False(t, limiter.Check(ctx, "dave", "free").IsLimited)
		assert.True(t, limiter.Check(ctx, "dave", "free").IsLimited)

		// On recovery the shared store is used again.
		store.SetFailing(false)
		assert.False(t, limiter.Check(ctx, "erin", "free").IsLimited)
		assert.NotZero(t, store.Count(HashIdentifier("erin")+":minute"))
	})
}

func TestLimiter_Status(t *testing.T) {
	ctx := context.Background()

	t.Run("local mode", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 10, 100, 1000)})

		limiter.Check(ctx, "alice", "free")
		limiter.Check(ctx, "alice", "free")
		limiter.Check(ctx, "alice", "free")

		statuses, err := limiter.Status(ctx, "alice", "free")
		require.NoError(t, err)
		require.Len(t, statuses, 3)

		assert.Equal(t, "minute", statuses[0].Window)
		assert.Equal(t, int64(10), statuses[0].Limit)
		assert.Equal(t, int64(3), statuses[0].Count)
		assert.Equal(t, int64(7), statuses[0].Remaining)

		assert.Equal(t, "hour", statuses[1].Window)
		assert.Equal(t, int64(3), statuses[1].Count)

		assert.Equal(t, "day", statuses[2].Window)
		assert.Equal(t, int64(3), statuses[2].Count)
	})

	t.Run("status does not consume quota", func(t *testing.T) {
		limiter := NewLimiter(LimiterConfig{Policy: testPolicy(t, 1, 10, 20)})

		for i := 0; i < 5; i++ {
			_, err := limiter.Status(ctx, "frank", "free")
			require.NoError(t, err)
		}

		assert.False(t, limiter.Check(ctx, "frank", "free").IsLimited)
	})

	t.Run("shared mode reads through the store", func(t *testing.T) {
		store := testutil.NewMockStore()
		limiter := NewLimiter(LimiterConfig{Store: store, Policy: testPolicy(t, 10, 100, 1000)})

		limiter.Check(ctx, "alice", "free")
		limiter.Check(ctx, "alice", "free")

		statuses, err := limiter.Status(ctx, "alice", "free")
		require.NoError(t, err)
		assert.Equal(t, int64(2), statuses[0].Count)
	})
}

func TestLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMockStore()
	limiter := NewLimiter(LimiterConfig{Store: store, Policy: testPolicy(t, 1, 10, 20)})

	require.False(t, limiter.Check(ctx, "alice", "free").IsLimited)
	require.True(t, limiter.Check(ctx, "alice", "free").IsLimited)

	require.NoError(t, limiter.Reset(ctx, "alice"))

	assert.False(t, limiter.Check(ctx, "alice", "free").IsLimited)
}

func TestHashIdentifier(t *testing.T) {
	h1 := HashIdentifier("user-123")
	h2 := HashIdentifier("user-123")
	h3 := HashIdentifier("user-124")

	assert.Equal(t, h1, h2, "hashing must be deterministic")
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 32)
	assert.NotContains(t, h1, "user", "raw identifier must not leak into keys")
}

func TestDecision_LimitedWindow(t *testing.T) {
	assert.Equal(t, "", Decision{}.LimitedWindow())
	assert.Equal(t, "minute", Decision{MinuteLimited: true, HourLimited: true, IsLimited: true}.LimitedWindow())
	assert.Equal(t, "hour", Decision{HourLimited: true, IsLimited: true}.LimitedWindow())
	assert.Equal(t, "day", Decision{DayLimited: true, IsLimited: true}.LimitedWindow())
}

func TestDecision_RetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), Decision{}.RetryAfter())
	assert.Equal(t, time.Minute, Decision{MinuteLimited: true, DayLimited: true, IsLimited: true}.RetryAfter())
	assert.Equal(t, time.Hour, Decision{HourLimited: true, IsLimited: true}.RetryAfter())
	assert.Equal(t, 24*time.Hour, Decision{DayLimited: true, IsLimited: true}.RetryAfter())
}
