package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters across server processes (INCR + EXPIRE).
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

// NewRedisLimiter constructs a RedisLimiter. The client is owned by the caller.
func NewRedisLimiter(client *redis.Client, cfg Config) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg.normalized(), now: time.Now}
}

// Allow records one hit for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	redisKey, _ := l.cfg.windowKey(key, l.now().UTC())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	retry := ttl.Val()
	if incr.Val() == 1 || retry < 0 {
		if err := l.client.Expire(ctx, redisKey, l.cfg.Window).Err(); err != nil {
			return Result{}, err
		}
		retry = l.cfg.Window
	}
	return l.cfg.result(incr.Val(), retry), nil
}
