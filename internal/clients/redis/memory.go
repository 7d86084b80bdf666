package redis

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an in-process Cache with the same TTL semantics as
// the Redis implementation. Used when REDIS_ADDR is unset and in tests.
func NewMemoryCache() Cache {
	return &memoryCache{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (c *memoryCache) get(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (c *memoryCache) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(ttl)
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: c.expiry(ttl)}
	return nil
}

func (c *memoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.get(key); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{value: value, expiresAt: c.expiry(ttl)}
	return true, nil
}

func (c *memoryCache) IncrByFloat(_ context.Context, key string, delta float64, ttl time.Duration) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := 0.0
	if e, ok := c.get(key); ok {
		parsed, err := strconv.ParseFloat(e.value, 64)
		if err != nil {
			return 0, err
		}
		cur = parsed
	}
	cur += delta
	c.entries[key] = memoryEntry{
		value:     strconv.FormatFloat(cur, 'f', -1, 64),
		expiresAt: c.expiry(ttl),
	}
	return cur, nil
}

func (c *memoryCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) FlushAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]memoryEntry{}
	return nil
}

func (c *memoryCache) Close() error { return nil }
