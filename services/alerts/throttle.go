package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Throttle decides whether an alert key may notify again.
type Throttle interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

const memoryThrottleSize = 1024

// MemoryThrottle keeps the last notification time per key in a bounded LRU.
// It only covers the current process.
type MemoryThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	lastSent *lru.Cache[string, time.Time]
}

func NewMemoryThrottle(interval time.Duration) (*MemoryThrottle, error) {
	cache, err := lru.New[string, time.Time](memoryThrottleSize)
	if err != nil {
		return nil, fmt.Errorf("create alert throttle cache: %w", err)
	}
	return &MemoryThrottle{interval: interval, lastSent: cache}, nil
}

func (t *MemoryThrottle) Allow(_ context.Context, key string, now time.Time) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastSent.Get(key); ok && now.Sub(last) < t.interval {
		return false, nil
	}
	t.lastSent.Add(key, now)
	return true, nil
}

// RedisThrottle shares the per-key window across instances with SETNX + TTL.
type RedisThrottle struct {
	client   *redis.Client
	interval time.Duration
	prefix   string
}

func NewRedisThrottle(client *redis.Client, interval time.Duration) *RedisThrottle {
	return &RedisThrottle{client: client, interval: interval, prefix: "alerts:throttle:"}
}

func (t *RedisThrottle) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	ok, err := t.client.SetNX(ctx, t.prefix+key, now.Unix(), t.interval).Result()
	if err != nil {
		return false, fmt.Errorf("alert throttle: %w", err)
	}
	return ok, nil
}
