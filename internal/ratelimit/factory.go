package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/owaiken/os/internal/config"
)

// NewStore builds the shared counter backend selected by configuration
// and wraps it in a FallbackStore so outages degrade to local
// accounting.
//
// Backends:
// - "local" (or empty): returns nil; the Limiter then runs its
//   in-process sliding-window log and needs no Store at all
// - "postgres": counters in PostgreSQL via the given pool
// - "redis": counters in a Redis-compatible backend
func NewStore(cfg *config.RateLimitConfig, pool *pgxpool.Pool) (Store, error) {
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}

	switch cfg.Backend {
	case config.BackendLocal, "":
		log.Info().Msg("Using in-process sliding window rate limiting (single instance mode)")
		return nil, nil

	case config.BackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("database pool is required for postgres rate limit backend")
		}
		log.Info().Msg("Using PostgreSQL rate limit store (multi-instance mode)")
		return NewFallbackStore(NewPostgresStore(pool), timeout), nil

	case config.BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("redis_url is required for redis rate limit backend")
		}
		log.Info().Msg("Using Redis-compatible rate limit store (high-scale mode)")
		return NewFallbackStore(newLazyRedisStore(cfg.RedisURL), timeout), nil

	default:
		return nil, fmt.Errorf("unknown rate limit backend: %s (valid options: local, postgres, redis)", cfg.Backend)
	}
}

// NewPolicy builds a TierPolicy from the configured tier table, or the
// stock table when none is configured.
func NewPolicy(cfg *config.RateLimitConfig) (TierPolicy, error) {
	if len(cfg.Tiers) == 0 {
		return DefaultTierPolicy(), nil
	}

	tiers := make(map[string]Limits, len(cfg.Tiers))
	for name, l := range cfg.Tiers {
		tiers[name] = Limits{PerMinute: l.PerMinute, PerHour: l.PerHour, PerDay: l.PerDay}
	}

	return NewTierPolicy(tiers)
}

// lazyRedisStore defers the Redis connection to first use and
// re-attempts it per call while the backend is down. Combined with the
// fallback wrapper this lets the service start, and keep limiting
// locally, when Redis is not up yet. The dial runs under the caller's
// context, so a stalled backend cannot hold a check past the
// store-timeout deadline the fallback wrapper sets.
type lazyRedisStore struct {
	url string

	mu    sync.Mutex
	store *RedisStore
}

func newLazyRedisStore(url string) *lazyRedisStore {
	return &lazyRedisStore{url: url}
}

func (s *lazyRedisStore) connect(ctx context.Context) (*RedisStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return s.store, nil
	}

	store, err := NewRedisStore(ctx, s.url)
	if err != nil {
		return nil, err
	}

	s.store = store
	return store, nil
}

func (s *lazyRedisStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	store, err := s.connect(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	return store.Get(ctx, key)
}

func (s *lazyRedisStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	store, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	return store.Increment(ctx, key, expiration)
}

func (s *lazyRedisStore) Reset(ctx context.Context, key string) error {
	store, err := s.connect(ctx)
	if err != nil {
		return err
	}
	return store.Reset(ctx, key)
}

func (s *lazyRedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
