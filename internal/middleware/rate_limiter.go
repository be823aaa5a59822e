// Package middleware provides the Fiber middleware that guards routes
// with the rate limiter.
package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/owaiken/os/internal/observability"
	"github.com/owaiken/os/internal/ratelimit"
)

// IdentityResolver extracts the identifier and subscription tier for a
// request. The limiter does not validate either: the identifier is an
// opaque key and unknown tiers resolve to the most restrictive one.
type IdentityResolver func(c *fiber.Ctx) (identifier, tier string)

// DefaultResolver keys requests by the authenticated user header when
// present, the client IP otherwise. The tier comes from the tier header
// set by the auth layer, defaulting to free.
func DefaultResolver(c *fiber.Ctx) (string, string) {
	identifier := c.Get("X-Owaiken-User")
	if identifier == "" {
		identifier = c.IP()
	}

	tier := c.Get("X-Owaiken-Tier")
	if tier == "" {
		tier = ratelimit.DefaultTier
	}

	return identifier, tier
}

// RateLimiterConfig configures the tiered rate limit middleware.
type RateLimiterConfig struct {
	Limiter  *ratelimit.Limiter
	Resolver IdentityResolver
	Endpoint string // optional label scoping this route's counters
	Metrics  *observability.Metrics
	Message  string
}

// NewRateLimiter returns a middleware that checks each request against
// the caller's tier thresholds and rejects with 429 when any window is
// exhausted. The check is an explicit call at the top of the handler
// chain; rejected requests carry a Retry-After header for the narrowest
// exhausted window.
func NewRateLimiter(config RateLimiterConfig) fiber.Handler {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewLimiter(ratelimit.LimiterConfig{})
	}
	if config.Resolver == nil {
		config.Resolver = DefaultResolver
	}
	if config.Message == "" {
		config.Message = "Rate limit exceeded. Please slow down and try again."
	}

	return func(c *fiber.Ctx) error {
		identifier, tier := config.Resolver(c)

		decision := config.Limiter.CheckEndpoint(c.UserContext(), identifier, config.Endpoint, tier)

		if config.Metrics != nil {
			config.Metrics.RecordCheck(tier)
			if window := decision.LimitedWindow(); window != "" {
				config.Metrics.RecordThrottle(tier, window)
			}
		}

		if decision.IsLimited {
			retryAfter := int(decision.RetryAfter().Seconds())
			c.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     config.Message,
				"retry_after": retryAfter,
			})
		}

		return c.Next()
	}
}

// NewBurstGuard returns a middleware that smooths per-client bursts
// with a token bucket, sitting in front of the windowed tier checks.
// Keys are client IPs; the bucket refills at perSecond tokens with the
// given capacity.
func NewBurstGuard(perSecond float64, burst int) fiber.Handler {
	buckets := ratelimit.NewTokenBucketStore(perSecond, burst)

	return func(c *fiber.Ctx) error {
		if !buckets.Allow(c.IP()) {
			c.Set("Retry-After", "1")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Too many requests",
				"message": fmt.Sprintf("Burst limit of %d requests exceeded.", burst),
			})
		}
		return c.Next()
	}
}

// NewFixedWindowLimiter guards a route with a single per-IP window on
// one of our counter backends, for simple routes (health, admin) that
// do not need tier logic. Store failures wave the request through;
// wrap the store in a FallbackStore when that is not acceptable.
func NewFixedWindowLimiter(store ratelimit.Store, max int64, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		result, err := ratelimit.Check(c.UserContext(), store, c.IP(), max, window)
		if err != nil {
			log.Warn().Err(err).Msg("Fixed window check failed, allowing request")
			return c.Next()
		}

		if !result.Allowed {
			c.Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"message":     fmt.Sprintf("Maximum %d requests per %s allowed.", max, window),
				"retry_after": int(window.Seconds()),
			})
		}

		return c.Next()
	}
}
