// Package ratelimit throttles login attempts with a fixed window counter.
//
// Limits are advisory. Token correctness never depends on them, so callers
// may fail open when the backend is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result describes one Allow decision.
type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter counts hits per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config is shared by both backends.
type Config struct {
	Prefix string
	Max    int64
	Window time.Duration
}

// DefaultConfig allows 10 login attempts per client per minute.
func DefaultConfig() Config {
	return Config{Prefix: "warden:rl:", Max: 10, Window: time.Minute}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

// windowKey returns the storage key for key in the window containing now,
// and when that window ends.
func (c Config) windowKey(key string, now time.Time) (string, time.Time) {
	start := now.Truncate(c.Window)
	return fmt.Sprintf("%s%s:%d", c.Prefix, strings.ReplaceAll(key, " ", "_"), start.Unix()), start.Add(c.Window)
}

func (c Config) result(hits int64, retryAfter time.Duration) Result {
	res := Result{Allowed: hits <= c.Max, CurrentHits: hits}
	if rem := c.Max - hits; rem > 0 {
		res.Remaining = rem
	}
	if !res.Allowed {
		if retryAfter <= 0 {
			retryAfter = c.Window
		}
		res.RetryAfter = retryAfter
	}
	return res
}
