// Package cache provides a fixed-capacity LRU cache for oracle results.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity bounds the cache when no capacity is configured.
// Endgame training revisits a small set of positions (undo/redo and
// opponent-reply cycles), so a few hundred entries is plenty.
const DefaultCapacity = 200

// LRU is a least-recently-used cache with an optional TTL.
// Get promotes the entry to most-recently-used. A zero TTL disables
// expiry; tablebase results never change for a fixed position, so the
// TTL exists only for operational staleness control.
type LRU[V any] struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration

	hits   uint64
	misses uint64
}

type lruEntry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// New creates an LRU cache. capacity <= 0 falls back to DefaultCapacity;
// ttl <= 0 disables expiry.
func New[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &LRU[V]{
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get retrieves a value and promotes it to most-recently-used.
// An expired entry is treated as a miss and evicted.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}

	ent := el.Value.(*lruEntry[V])
	if c.ttl > 0 && time.Since(ent.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		atomic.AddUint64(&c.misses, 1)
		return zero, false
	}

	c.order.MoveToFront(el)
	atomic.AddUint64(&c.hits, 1)
	return ent.value, true
}

// Set inserts or updates a value, evicting the least-recently-used
// entry when at capacity.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*lruEntry[V])
		ent.value = value
		ent.insertedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry[V]).key)
	}

	el := c.order.PushFront(&lruEntry[V]{
		key:        key,
		value:      value,
		insertedAt: time.Now(),
	})
	c.entries[key] = el
}

// Size returns the current entry count.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns keys in most-to-least-recently-used order.
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Clear empties the cache and resets counters.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.capacity)
	c.order.Init()
	atomic.StoreUint64(&c.hits, 0)
	atomic.StoreUint64(&c.misses, 0)
}

// Stats returns hit/miss counters and current size.
func (c *LRU[V]) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	size = len(c.entries)
	c.mu.Unlock()
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses), size
}
