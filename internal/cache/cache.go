// Package cache provides a TTL-keyed in-memory store for upstream responses.
// It is an optimization, never a source of truth: an expired entry is simply
// absent and gets overwritten by the next fetch.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// Cache maps string keys to values with a per-entry TTL. Eviction is lazy:
// expired entries are dropped on the next lookup, there is no sweeper.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]entry[V]
	now   func() time.Time
}

func New[V any]() *Cache[V] {
	return &Cache[V]{
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Get returns the cached value for key, or false if absent or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

func (c *Cache[V]) get(key string) (V, bool) {
	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for the given TTL, overwriting any entry.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, ttl)
}

func (c *Cache[V]) set(key string, value V, ttl time.Duration) {
	now := c.now()
	c.items[key] = entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// GetOrFetch returns the cached value for key, or invokes fetch on a miss and
// stores the result for ttl. A fetch error is returned unstored, so the next
// call retries.
func (c *Cache[V]) GetOrFetch(key string, ttl time.Duration, fetch func() (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.get(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()

	// Fetch outside the lock: an upstream call can take seconds and must not
	// block unrelated keys.
	v, err := fetch()
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.set(key, v, ttl)
	c.mu.Unlock()
	return v, nil
}

// Size returns the number of entries, including not-yet-evicted expired ones.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
