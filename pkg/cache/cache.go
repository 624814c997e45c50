package cache

import (
	"sync"
	"time"
)

// Observer is notified of lookups, e.g. to feed metrics.
type Observer interface {
	CacheHit()
	CacheMiss()
}

type entry[T any] struct {
	val T
	exp time.Time
}

// Cache is a TTL map with explicit invalidation. Every Invalidate bumps a
// generation; SetIfCurrent refuses values computed under an older generation,
// so a computation that raced a data load never repopulates the cache.
type Cache[T any] struct {
	mu  sync.RWMutex
	m   map[string]entry[T]
	ttl time.Duration
	gen uint64
	obs Observer
	now func() time.Time
}

func New[T any](ttl time.Duration, obs Observer) *Cache[T] {
	return &Cache[T]{m: make(map[string]entry[T]), ttl: ttl, obs: obs, now: time.Now}
}

// Get returns a live entry. Expired entries are dropped.
func (c *Cache[T]) Get(key string) (T, bool) {
	var zero T
	now := c.now()
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if ok && now.After(e.exp) {
		c.mu.Lock()
		if cur, still := c.m[key]; still && now.After(cur.exp) {
			delete(c.m, key)
		}
		c.mu.Unlock()
		ok = false
	}
	if !ok {
		if c.obs != nil {
			c.obs.CacheMiss()
		}
		return zero, false
	}
	if c.obs != nil {
		c.obs.CacheHit()
	}
	return e.val, true
}

// Generation returns the current generation, to be passed to SetIfCurrent.
func (c *Cache[T]) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetIfCurrent stores v only if no invalidation happened since gen was read.
func (c *Cache[T]) SetIfCurrent(key string, v T, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.m[key] = entry[T]{val: v, exp: c.now().Add(c.ttl)}
	return true
}

// Invalidate drops every entry and starts a new generation.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.m = make(map[string]entry[T])
	c.gen++
	c.mu.Unlock()
}

// Len counts stored entries, expired or not.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}
