package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/koios/signage-sync/internal/config"
)

const keyPrefix = "signage:ratelimit:"

// RedisLimiter shares fixed windows across replicas through SET NX and INCR.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewRedisLimiter creates a limiter with its own connection.
func NewRedisLimiter(cfg config.RedisConfig, rl config.RateLimitConfig) *RedisLimiter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLimiterFromClient(rdb, rl)
}

// NewRedisLimiterFromClient creates a limiter on an existing client.
func NewRedisLimiterFromClient(client *redis.Client, rl config.RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, window: rl.Window, max: rl.MaxRequests}
}

// Close closes the Redis connection
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := buildKey(key)

	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// SET NX opens the window with its TTL; later requests only count.
		pipe.SetNX(ctx, redisKey, 0, r.window)
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to count request for %s: %w", key, err)
	}

	return decide(incr.Val(), r.max, ttl.Val()), nil
}

// Reset clears the window of key.
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, buildKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset %s: %w", key, err)
	}
	return nil
}

// buildKey scopes a limiter key; path separators are flattened.
func buildKey(key string) string {
	return keyPrefix + strings.ReplaceAll(key, "/", "_")
}
