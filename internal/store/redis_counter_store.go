package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// incrementWithDefaultScript creates the counter with a zero default and
// an absolute expiry on first increment in a window. Resets are implicit:
// a new window means a new key, never a reset-in-place.
var incrementWithDefaultScript = redis.NewScript(`
local count = redis.call('INCRBY', KEYS[1], ARGV[1])
if count == tonumber(ARGV[1]) and tonumber(ARGV[2]) > 0 then
    redis.call('EXPIREAT', KEYS[1], ARGV[2])
end
return count
`)

// RedisCounterStore implements CounterStore on Redis
type RedisCounterStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCounterStore creates a new Redis counter store
func NewRedisCounterStore(client *redis.Client, logger *zap.Logger) CounterStore {
	return &RedisCounterStore{
		client: client,
		logger: logger,
	}
}

// Get returns the current count for key
func (s *RedisCounterStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.client.Get(ctx, limitKey(key)).Int64()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter %q: %w", key, err)
	}
	return count, nil
}

// IncrementWithDefault atomically increments key, creating it with the
// given expiry when absent, and returns the post-increment count.
func (s *RedisCounterStore) IncrementWithDefault(ctx context.Context, key string, delta, expiresAt int64) (int64, error) {
	count, err := incrementWithDefaultScript.Run(ctx, s.client, []string{limitKey(key)}, delta, expiresAt).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %q: %w", key, err)
	}
	return count, nil
}

// Ping checks the Redis connection
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}
