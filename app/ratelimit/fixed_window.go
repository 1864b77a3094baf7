// Package ratelimit throttles anonymous clients with fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is the time left in the current window.
	RetryAfter time.Duration
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

type window struct {
	limit  int
	window time.Duration
	now    func() time.Time
}

func (w window) slot() (int64, time.Duration) {
	ms := w.window.Milliseconds()
	now := w.now().UTC().UnixMilli()
	slot := now / ms
	left := time.Duration((slot+1)*ms-now) * time.Millisecond
	return slot, left
}

func normalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "unknown"
	}
	return key
}

func validate(limit int, w time.Duration) error {
	if limit <= 0 || w < time.Millisecond {
		return errors.New("rate limiter requires positive limit and window")
	}
	return nil
}

// RedisLimiter shares counters between server processes through Redis.
type RedisLimiter struct {
	window
	client *redis.Client
	prefix string
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, w time.Duration) (*RedisLimiter, error) {
	if err := validate(limit, w); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisLimiter{
		window: window{limit: limit, window: w, now: time.Now},
		client: client,
		prefix: prefix,
	}, nil
}

// Allow lets the request through when Redis is unreachable; a cache
// outage must not take the reader down.
func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	slot, left := l.slot()
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, normalizeKey(key), slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, l.window.window.Milliseconds()).Int64()
	if err != nil {
		slog.Warn("Rate limiter unavailable", "error", err)
		return Decision{Allowed: true}
	}
	if count > int64(l.limit) {
		return Decision{Allowed: false, RetryAfter: left}
	}
	return Decision{Allowed: true}
}

type counter struct {
	slot  int64
	count int
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	window
	mu       sync.Mutex
	counters map[string]*counter
}

func NewMemoryLimiter(limit int, w time.Duration) (*MemoryLimiter, error) {
	if err := validate(limit, w); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		window:   window{limit: limit, window: w, now: time.Now},
		counters: make(map[string]*counter),
	}, nil
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) Decision {
	slot, left := l.slot()
	key = normalizeKey(key)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || c.slot != slot {
		if len(l.counters) > 10000 {
			l.sweep(slot)
		}
		c = &counter{slot: slot}
		l.counters[key] = c
	}
	c.count++
	if c.count > l.limit {
		return Decision{Allowed: false, RetryAfter: left}
	}
	return Decision{Allowed: true}
}

func (l *MemoryLimiter) sweep(slot int64) {
	for k, c := range l.counters {
		if c.slot != slot {
			delete(l.counters, k)
		}
	}
}
