package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const redisKeyPrefix = "owaiken:ratelimit:"

// RedisStore implements Store on a Redis-compatible backend (Redis,
// Dragonfly, Valkey, KeyDB all speak the same protocol). This is the
// recommended backend when multiple instances must share limits.
type RedisStore struct {
	client *redis.Client
}

// incrExpireScript increments a counter and sets its expiry only on the
// increment that creates the key, so the window length is anchored to
// the first event and later events cannot extend it.
var incrExpireScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// NewRedisStore creates a Redis-backed counter store.
// url uses the usual form: redis://[password@]host:port[/db]
// The connectivity ping runs under ctx, so a caller operating on a
// store-timeout budget bounds the dial as well.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis-compatible backend for rate limiting")

	return &RedisStore{
		client: client,
	}, nil
}

// Get retrieves the current count and expiry for a key.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, time.Time, error) {
	prefixedKey := redisKeyPrefix + key

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, prefixedKey)
	ttlCmd := pipe.TTL(ctx, prefixedKey)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return 0, time.Time{}, err
	}

	countStr, err := getCmd.Result()
	if err == redis.Nil {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}

	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, err
	}

	ttl, _ := ttlCmd.Result()
	return count, time.Now().Add(ttl), nil
}

// Increment atomically increments the counter for a key.
func (s *RedisStore) Increment(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	prefixedKey := redisKeyPrefix + key

	result, err := incrExpireScript.Run(ctx, s.client, []string{prefixedKey}, expiration.Milliseconds()).Int64()
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Reset clears the counter for a key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
