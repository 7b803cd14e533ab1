// Package cache is a process-wide keyed cache for computed results.
// Bounded with an LRU so a long-lived process cannot grow without limit.
package cache

import lru "github.com/hashicorp/golang-lru/v2"

// DefaultCapacity bounds the cache when the caller does not care.
const DefaultCapacity = 512

// Cache is a fixed-capacity keyed cache, safe for concurrent use.
type Cache[V any] struct {
	inner *lru.Cache[string, V]
}

func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only errors on a non-positive size.
	inner, _ := lru.New[string, V](capacity)
	return &Cache[V]{inner: inner}
}

func (c *Cache[V]) Has(key string) bool {
	return c.inner.Contains(key)
}

func (c *Cache[V]) Get(key string) (V, bool) {
	return c.inner.Get(key)
}

func (c *Cache[V]) Set(key string, value V) {
	c.inner.Add(key, value)
}
