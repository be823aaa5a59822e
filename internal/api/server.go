// Package api assembles the HTTP surface of the rate limiting service:
// the check/status/reset endpoints, health, and Prometheus metrics.
package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog/log"

	"github.com/owaiken/os/internal/config"
	"github.com/owaiken/os/internal/middleware"
	"github.com/owaiken/os/internal/observability"
	"github.com/owaiken/os/internal/ratelimit"
)

// healthRequestsPerMinute caps per-IP traffic on the health endpoint,
// which sits outside the tier counters.
const healthRequestsPerMinute = 120

// Server represents the HTTP server.
type Server struct {
	app         *fiber.App
	config      *config.Config
	limiter     *ratelimit.Limiter
	store       ratelimit.Store
	healthStore *ratelimit.MemoryStore
	metrics     *observability.Metrics
	startedAt   time.Time
}

// NewServer creates the HTTP server. store may be nil in local-only
// mode; metrics may be nil to disable instrumentation.
func NewServer(cfg *config.Config, limiter *ratelimit.Limiter, store ratelimit.Store, metrics *observability.Metrics) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "Owaiken",
		AppName:               "Owaiken Rate Limiter",
		BodyLimit:             cfg.Server.BodyLimit,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          errorHandler,
	})

	s := &Server{
		app:         app,
		config:      cfg,
		limiter:     limiter,
		store:       store,
		healthStore: ratelimit.NewMemoryStore(10 * time.Minute),
		metrics:     metrics,
		startedAt:   time.Now(),
	}

	s.setupMiddlewares()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddlewares() {
	s.app.Use(requestid.New())

	if s.config.Debug {
		s.app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
		}))
	}

	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: s.config.Debug,
	}))

	// Token bucket in front of everything, so one client cannot melt
	// the check endpoint itself.
	s.app.Use(middleware.NewBurstGuard(s.config.RateLimit.BurstPerSecond, s.config.RateLimit.Burst))

	if s.metrics != nil {
		s.app.Use(s.metrics.MetricsMiddleware())
	}
}

func (s *Server) setupRoutes() {
	// Health sits outside the tier counters; a plain per-IP window
	// keeps probes and scrapers honest.
	s.app.Get("/health",
		middleware.NewFixedWindowLimiter(s.healthStore, healthRequestsPerMinute, time.Minute),
		s.handleHealth)

	if s.metrics != nil {
		s.app.Get("/metrics", s.metrics.Handler())
	}

	v1 := s.app.Group("/v1/ratelimit")

	// The check endpoint reports decisions for the caller to enforce
	// and is never 429'd by tier state, so it stays unguarded beyond
	// the burst guard.
	v1.Post("/check", s.handleCheck)

	// Status and reset are guarded by the tiered middleware under
	// their own endpoint label, so browsing them does not consume the
	// callers' check quota.
	guard := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Limiter:  s.limiter,
		Endpoint: "api",
		Metrics:  s.metrics,
	})
	v1.Get("/status/:identifier", guard, s.handleStatus)
	v1.Post("/reset", guard, s.handleReset)
}

type checkRequest struct {
	Identifier string `json:"identifier"`
	Tier       string `json:"tier"`
	Endpoint   string `json:"endpoint"`
}

// handleCheck evaluates a check for the calling application and returns
// the decision. The caller enforces it; a limited decision here is
// still a 200.
func (s *Server) handleCheck(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	tier := req.Tier
	if tier == "" {
		tier = ratelimit.DefaultTier
	}

	decision := s.limiter.CheckEndpoint(c.UserContext(), req.Identifier, req.Endpoint, tier)

	if s.metrics != nil {
		s.metrics.RecordCheck(tier)
		if decision.IsLimited {
			s.metrics.RecordThrottle(tier, decision.LimitedWindow())
		}
	}

	if decision.IsLimited {
		c.Set("Retry-After", formatSeconds(decision.RetryAfter()))
	}

	return c.JSON(decision)
}

// handleStatus reports the live window counts for an identifier without
// consuming quota.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	identifier := c.Params("identifier")
	tier := c.Query("tier", ratelimit.DefaultTier)

	statuses, err := s.limiter.Status(c.UserContext(), identifier, tier)
	if err != nil {
		log.Error().Err(err).Msg("Rate limit status lookup failed")
		return fiber.NewError(fiber.StatusServiceUnavailable, "rate limit store unavailable")
	}

	return c.JSON(fiber.Map{
		"tier":    tier,
		"windows": statuses,
	})
}

type resetRequest struct {
	Identifier string `json:"identifier"`
}

// handleReset clears all window counters for an identifier.
func (s *Server) handleReset(c *fiber.Ctx) error {
	var req resetRequest
	if err := c.BodyParser(&req); err != nil || req.Identifier == "" {
		return fiber.NewError(fiber.StatusBadRequest, "identifier is required")
	}

	if err := s.limiter.Reset(c.UserContext(), req.Identifier); err != nil {
		log.Error().Err(err).Msg("Rate limit reset failed")
		return fiber.NewError(fiber.StatusServiceUnavailable, "rate limit store unavailable")
	}

	return c.JSON(fiber.Map{"reset": true})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	degraded := false
	if fb, ok := s.store.(*ratelimit.FallbackStore); ok {
		degraded = fb.Degraded()
	}

	if s.metrics != nil {
		s.metrics.SetFallbackActive(degraded)
		s.metrics.UpdateUptime(s.startedAt)
	}

	status := "ok"
	if degraded {
		// Still serving decisions, just from local accounting.
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":    status,
		"backend":   s.backendName(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) backendName() string {
	if s.store == nil {
		return config.BackendLocal
	}
	return s.config.RateLimit.Backend
}

// App returns the underlying Fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Server.Address)
}

// Shutdown gracefully shuts down the server and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)

	_ = s.healthStore.Close()

	if s.store != nil {
		if cerr := s.store.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Failed to close rate limit store")
		}
	}

	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= 500 {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
