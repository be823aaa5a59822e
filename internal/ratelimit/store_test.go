package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()

	ctx := context.Background()

	t.Run("allows within limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			result, err := Check(ctx, store, "key1", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, result.Allowed)
			assert.Equal(t, int64(3), result.Limit)
			assert.Equal(t, int64(3-i-1), result.Remaining)
		}
	})

	t.Run("denies beyond limit", func(t *testing.T) {
		result, err := Check(ctx, store, "key1", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, int64(0), result.Remaining)
	})

	t.Run("remaining never negative", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			result, err := Check(ctx, store, "key2", 1, time.Minute)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, result.Remaining, int64(0))
		}
	})

	t.Run("reset at is in the future", func(t *testing.T) {
		result, err := Check(ctx, store, "key3", 10, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.ResetAt.After(time.Now()))
	})
}
