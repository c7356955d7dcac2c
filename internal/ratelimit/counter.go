// Package ratelimit provides a shared keyed counter with TTL windows.
// Quota-style accounting lives behind one small interface so it works the
// same against Redis in production and process memory in tests.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Counter increments a key inside a rolling window and returns the count
// observed after the increment.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter counts against a shared Redis so limits hold across all
// serving instances.
type RedisCounter struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisCounter creates a Redis-backed counter. Keys are namespaced with
// the given prefix.
func NewRedisCounter(client goredis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

func (c *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := c.prefix + ":" + key

	count, err := c.client.Incr(ctx, fullKey).Result()
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", fullKey, err)
	}

	// First hit in this window owns the expiry.
	if count == 1 {
		if err := c.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return 0, fmt.Errorf("expire %s: %w", fullKey, err)
		}
	}

	return count, nil
}

// MemoryCounter is a process-local Counter for tests and single-instance
// deployments. It does not survive restarts and does not share state across
// instances.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	count    int64
	resetsAt time.Time
}

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

func (c *MemoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	b, ok := c.buckets[key]
	if !ok || now.After(b.resetsAt) {
		b = &memoryBucket{resetsAt: now.Add(window)}
		c.buckets[key] = b
	}
	b.count++
	return b.count, nil
}
