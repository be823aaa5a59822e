// Package observability provides Prometheus metrics for the service.
package observability

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for Owaiken.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Rate limiting metrics
	checksTotal      *prometheus.CounterVec
	throttledTotal   *prometheus.CounterVec
	storeErrorsTotal prometheus.Counter
	fallbackActive   prometheus.Gauge

	// System metrics
	systemUptime prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics. Call it once
// at startup; metrics register against the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "owaiken_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "owaiken_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "owaiken_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		checksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "owaiken_rate_limit_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"tier"},
		),
		throttledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "owaiken_rate_limit_throttled_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"tier", "window"},
		),
		storeErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "owaiken_rate_limit_store_errors_total",
				Help: "Total number of shared store failures served from the local fallback",
			},
		),
		fallbackActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "owaiken_rate_limit_fallback_active",
				Help: "Whether the shared store is down and checks are served locally (1) or not (0)",
			},
		),

		systemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "owaiken_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}

	return m
}

// MetricsMiddleware returns a Fiber middleware that collects HTTP metrics.
func (m *Metrics) MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		m.httpRequestsInFlight.Inc()
		defer m.httpRequestsInFlight.Dec()

		path := c.Path()
		method := c.Method()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := statusClass(c.Response().StatusCode())

		m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// RecordCheck records a rate limit check for a tier.
func (m *Metrics) RecordCheck(tier string) {
	m.checksTotal.WithLabelValues(tier).Inc()
}

// RecordThrottle records a rejected request and the window that caused it.
func (m *Metrics) RecordThrottle(tier, window string) {
	m.throttledTotal.WithLabelValues(tier, window).Inc()
}

// RecordStoreError counts a shared-store failure.
func (m *Metrics) RecordStoreError() {
	m.storeErrorsTotal.Inc()
}

// SetFallbackActive records whether checks are currently served from
// the local fallback store.
func (m *Metrics) SetFallbackActive(active bool) {
	if active {
		m.fallbackActive.Set(1)
	} else {
		m.fallbackActive.Set(0)
	}
}

// UpdateUptime refreshes the uptime gauge.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.systemUptime.Set(time.Since(startTime).Seconds())
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// statusClass buckets HTTP status codes to keep label cardinality down.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}
