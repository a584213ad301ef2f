package utils

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheItem[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded LRU cache whose entries expire after a fixed TTL.
type TTLCache[K comparable, V any] struct {
	lruCache *lru.Cache[K, cacheItem[V]]
	ttl      time.Duration

	mu  sync.RWMutex
	now func() time.Time
}

func NewTTLCache[K comparable, V any](size int, ttl time.Duration) (*TTLCache[K, V], error) {
	l, err := lru.New[K, cacheItem[V]](size)
	if err != nil {
		return nil, err
	}
	return &TTLCache[K, V]{lruCache: l, ttl: ttl, now: time.Now}, nil
}

// SetClock replaces the time source, for tests.
func (c *TTLCache[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) clock() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

func (c *TTLCache[K, V]) Set(key K, value V) {
	c.lruCache.Add(key, cacheItem[V]{value: value, expiresAt: c.clock().Add(c.ttl)})
}

// Get reports a miss for absent and expired keys.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	item, ok := c.lruCache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if c.clock().After(item.expiresAt) {
		c.lruCache.Remove(key)
		var zero V
		return zero, false
	}
	return item.value, true
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.lruCache.Remove(key)
}

func (c *TTLCache[K, V]) Len() int {
	return c.lruCache.Len()
}
