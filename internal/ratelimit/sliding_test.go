package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowStore_Capacity(t *testing.T) {
	store := NewSlidingWindowStore()

	// A burst of N+1 events: the first N pass, the last is denied.
	for i := 0; i < 5; i++ {
		assert.True(t, store.Allow("key1", time.Minute, 5), "event %d should be allowed", i+1)
	}
	assert.False(t, store.Allow("key1", time.Minute, 5))
}

func TestSlidingWindowStore_ZeroMax(t *testing.T) {
	store := NewSlidingWindowStore()

	assert.False(t, store.Allow("key1", time.Minute, 0))
	assert.False(t, store.Allow("key1", time.Minute, -1))
}

func TestSlidingWindowStore_FirstEventAllowed(t *testing.T) {
	store := NewSlidingWindowStore()

	assert.True(t, store.Allow("never-seen", time.Minute, 1))
}

func TestSlidingWindowStore_WindowExpiry(t *testing.T) {
	store := NewSlidingWindowStore()
	window := 100 * time.Millisecond

	require.True(t, store.Allow("key1", window, 1))
	assert.False(t, store.Allow("key1", window, 1), "still inside the window")

	time.Sleep(window + 20*time.Millisecond)

	assert.True(t, store.Allow("key1", window, 1), "window has passed")
}

func TestSlidingWindowStore_RejectedAttemptsNotRecorded(t *testing.T) {
	store := NewSlidingWindowStore()
	window := 200 * time.Millisecond

	// Fill the window, then hammer it with rejected attempts. The slot
	// must open when the recorded event expires, not later.
	start := time.Now()
	require.True(t, store.Allow("key1", window, 1))

	for i := 0; i < 10; i++ {
		assert.False(t, store.Allow("key1", window, 1))
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(window - time.Since(start) + 20*time.Millisecond)
	assert.True(t, store.Allow("key1", window, 1), "rejected attempts must not delay recovery")
}

func TestSlidingWindowStore_IndependentKeys(t *testing.T) {
	store := NewSlidingWindowStore()

	require.True(t, store.Allow("userA", time.Minute, 1))
	require.False(t, store.Allow("userA", time.Minute, 1))

	assert.True(t, store.Allow("userB", time.Minute, 1), "userA's exhaustion must not affect userB")
}

func TestSlidingWindowStore_Count(t *testing.T) {
	store := NewSlidingWindowStore()

	assert.Equal(t, int64(0), store.Count("key1", time.Minute))

	store.Allow("key1", time.Minute, 10)
	store.Allow("key1", time.Minute, 10)
	store.Allow("key1", time.Minute, 10)

	assert.Equal(t, int64(3), store.Count("key1", time.Minute))
}

func TestSlidingWindowStore_Reset(t *testing.T) {
	store := NewSlidingWindowStore()

	require.True(t, store.Allow("key1", time.Minute, 1))
	require.False(t, store.Allow("key1", time.Minute, 1))

	store.Reset("key1")

	assert.True(t, store.Allow("key1", time.Minute, 1))
}

func TestSlidingWindowStore_SweepsIdleKeys(t *testing.T) {
	store := NewSlidingWindowStore()
	window := 30 * time.Millisecond

	require.True(t, store.Allow("idle", window, 5))
	require.True(t, store.Allow("busy", time.Minute, 5))

	time.Sleep(window + 20*time.Millisecond)

	// Make the next check due for a sweep.
	store.mu.Lock()
	store.lastSweep = time.Now().Add(-2 * slidingSweepInterval)
	store.mu.Unlock()

	require.True(t, store.Allow("other", time.Minute, 5))

	store.mu.Lock()
	_, idleExists := store.records["idle"]
	_, busyExists := store.records["busy"]
	store.mu.Unlock()

	assert.False(t, idleExists, "fully expired logs must be dropped")
	assert.True(t, busyExists, "live logs must survive the sweep")
}

func TestSlidingWindowStore_ConcurrentSameKey(t *testing.T) {
	store := NewSlidingWindowStore()

	const workers = 20
	const perWorker = 10
	const max = 50

	var allowed int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if store.Allow("shared", time.Minute, max) {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	// Exactly max of the 200 concurrent events may pass.
	assert.Equal(t, int64(max), allowed)
	assert.Equal(t, int64(max), store.Count("shared", time.Minute))
}
