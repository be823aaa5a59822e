package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL, for multi-instance
// deployments that do not want to run Redis. Counters live in the
// owaiken.rate_limits table and are incremented with an UPSERT, which
// restarts the window atomically once the previous one has expired.
// Good for deployments up to roughly a thousand checks per second; use
// RedisStore beyond that.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed counter store. Call
// EnsureTable once at startup unless the table is managed by migration.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
	}
}

// Get retrieves the current count and expiry for a key.
func (s *PostgresStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	var count int64
	var expiresAt time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT count, expires_at
		FROM owaiken.rate_limits
		WHERE key = $1 AND expires_at > NOW()
	`, key).Scan(&count, &expiresAt)

	if errors.Is(err, pgx.ErrNoRows) {
		// No live window for the key.
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	return count, expiresAt, nil
}

// Increment atomically increments the counter for a key.
func (s *PostgresStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	expiresAt := time.Now().Add(expiration)

	var count int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO owaiken.rate_limits (key, count, expires_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE
				WHEN owaiken.rate_limits.expires_at <= NOW() THEN 1
				ELSE owaiken.rate_limits.count + 1
			END,
			expires_at = CASE
				WHEN owaiken.rate_limits.expires_at <= NOW() THEN $2
				ELSE owaiken.rate_limits.expires_at
			END
		RETURNING count
	`, key, expiresAt).Scan(&count)

	if err != nil {
		return 0, err
	}

	return count, nil
}

// Reset clears the counter for a key.
func (s *PostgresStore) Reset(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM owaiken.rate_limits WHERE key = $1
	`, key)
	return err
}

// Close is a no-op; the store does not own the connection pool.
func (s *PostgresStore) Close() error {
	return nil
}

// Cleanup removes expired rows. Expired windows are already ignored by
// Get and restarted by Increment, so this only reclaims space; run it
// periodically from a background job.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM owaiken.rate_limits WHERE expires_at <= NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// EnsureTable creates the rate_limits table if it does not exist.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS owaiken;

		CREATE TABLE IF NOT EXISTS owaiken.rate_limits (
			key TEXT PRIMARY KEY,
			count BIGINT NOT NULL DEFAULT 1,
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_rate_limits_expires_at
		ON owaiken.rate_limits (expires_at);
	`)
	return err
}
