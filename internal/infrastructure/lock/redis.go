package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sheetlens/backend/internal/domain"
	"github.com/sheetlens/backend/internal/observability"
)

// releaseScript deletes the key only when it still holds the caller's token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a keyed lock shared by every server using the same Redis
type RedisLock struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisLock connects to the Redis URL and verifies the connection
func NewRedisLock(ctx context.Context, redisURL, prefix string, logger zerolog.Logger) (*RedisLock, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if prefix == "" {
		prefix = "sheetlens:lock:"
	}
	return &RedisLock{
		client: client,
		prefix: prefix,
		logger: observability.Component(logger, "lock").With().Str("backend", "redis").Logger(),
	}, nil
}

// Acquire blocks until key is free or ctx ends
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	redisKey := l.prefix + key

	ticker := time.NewTicker(2 * pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// release deletes redisKey if it still holds token.
// The request context may already be done, so it runs on a fresh one.
func (l *RedisLock) release(redisKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		l.logger.Warn().Err(err).Str("key", redisKey).Msg("failed to release lock; it stays held until its ttl expires")
	}
}

// Close closes the Redis connection
func (l *RedisLock) Close() error {
	return l.client.Close()
}
