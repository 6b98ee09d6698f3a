package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter keeps counters in process. Each server process counts on its
// own.
type MemoryLimiter struct {
	c   *gocache.Cache
	cfg Config
	now func() time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	cfg = cfg.normalized()
	return &MemoryLimiter{
		c:   gocache.New(cfg.Window, time.Minute),
		cfg: cfg,
		now: time.Now,
	}
}

// Allow records one hit for key.
func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	now := l.now().UTC()
	k, end := l.cfg.windowKey(key, now)
	ttl := end.Sub(now)

	// Add fails when the window counter already exists; that is expected.
	_ = l.c.Add(k, int64(0), ttl)
	hits, err := l.c.IncrementInt64(k, 1)
	if err != nil {
		// Expired between Add and IncrementInt64.
		l.c.Set(k, int64(1), ttl)
		hits = 1
	}
	return l.cfg.result(hits, ttl), nil
}
