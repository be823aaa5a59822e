package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owaiken/os/internal/ratelimit"
)

func newTestApp(handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(handler)
	app.Get("/guarded", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func tinyLimiter(t *testing.T, minute int64) *ratelimit.Limiter {
	t.Helper()
	policy, err := ratelimit.NewTierPolicy(map[string]ratelimit.Limits{
		"free": {PerMinute: minute, PerHour: 1000, PerDay: 10000},
	})
	require.NoError(t, err)
	return ratelimit.NewLimiter(ratelimit.LimiterConfig{Policy: policy})
}

func TestNewRateLimiter_AllowsUnderLimit(t *testing.T) {
	app := newTestApp(NewRateLimiter(RateLimiterConfig{Limiter: tinyLimiter(t, 5)}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/guarded", nil)
		req.Header.Set("X-Owaiken-User", "alice")

		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}
}

func TestNewRateLimiter_RejectsOverLimit(t *testing.T) {
	app := newTestApp(NewRateLimiter(RateLimiterConfig{Limiter: tinyLimiter(t, 2)}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/guarded", nil)
		req.Header.Set("X-Owaiken-User", "alice")
		resp, err := app.Test(req)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Owaiken-User", "alice")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get("Retry-After"))
}

func TestNewRateLimiter_IdentifiersIndependent(t *testing.T) {
	app := newTestApp(NewRateLimiter(RateLimiterConfig{Limiter: tinyLimiter(t, 1)}))

	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Owaiken-User", "alice")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	req = httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Owaiken-User", "alice")
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	req = httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Owaiken-User", "bob")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestNewRateLimiter_TierHeader(t *testing.T) {
	policy, err := ratelimit.NewTierPolicy(map[string]ratelimit.Limits{
		"free":    {PerMinute: 1, PerHour: 1000, PerDay: 10000},
		"premium": {PerMinute: 10, PerHour: 1000, PerDay: 10000},
	})
	require.NoError(t, err)
	limiter := ratelimit.NewLimiter(ratelimit.LimiterConfig{Policy: policy})

	app := newTestApp(NewRateLimiter(RateLimiterConfig{Limiter: limiter}))

	// Premium caller gets past free's single-request minute budget.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/guarded", nil)
		req.Header.Set("X-Owaiken-User", "carol")
		req.Header.Set("X-Owaiken-Tier", "premium")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func TestNewRateLimiter_CustomResolver(t *testing.T) {
	var resolved string
	handler := NewRateLimiter(RateLimiterConfig{
		Limiter: tinyLimiter(t, 10),
		Resolver: func(c *fiber.Ctx) (string, string) {
			resolved = c.Get("X-Api-Key")
			return resolved, "free"
		},
	})
	app := newTestApp(handler)

	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Api-Key", "key-123")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "key-123", resolved)
}

func TestNewBurstGuard(t *testing.T) {
	// Effectively no refill within the test window.
	app := newTestApp(NewBurstGuard(0.001, 3))

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
}

func TestNewFixedWindowLimiter(t *testing.T) {
	store := ratelimit.NewMemoryStore(time.Minute)
	defer store.Close()

	app := newTestApp(NewFixedWindowLimiter(store, 2, time.Minute))

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/guarded", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/guarded", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestDefaultResolver(t *testing.T) {
	app := fiber.New()

	var id, tier string
	app.Get("/", func(c *fiber.Ctx) error {
		id, tier = DefaultResolver(c)
		return nil
	})

	t.Run("falls back to ip and free tier", func(t *testing.T) {
		_, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, ratelimit.DefaultTier, tier)
	})

	t.Run("uses headers when present", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Owaiken-User", "user-9")
		req.Header.Set("X-Owaiken-Tier", "enterprise")
		_, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, "user-9", id)
		assert.Equal(t, "enterprise", tier)
	})
}
