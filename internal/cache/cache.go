// Package cache provides a concurrent-safe LRU cache with TTL expiration.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// LRU is a concurrent-safe LRU cache with TTL expiration.
type LRU[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*list.Element
	order      *list.List // front=newest, back=oldest
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// New creates an LRU with the given capacity and TTL. A nil clock uses the
// real clock; maxEntries <= 0 means unbounded.
func New[K comparable, V any](maxEntries int, ttl time.Duration, clock clockwork.Clock) *LRU[K, V] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LRU[K, V]{
		entries:    make(map[K]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      clock,
	}
}

// Get retrieves a cached value. ok is false on miss or expiration.
func (c *LRU[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.entries[key]
	if !found {
		c.misses.Add(1)
		return value, false
	}

	e := el.Value.(*entry[K, V])
	if c.ttl > 0 && c.clock.Since(e.createdAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses.Add(1)
		return value, false
	}

	c.order.MoveToFront(el)
	c.hits.Add(1)
	return e.value, true
}

// Put stores a value, evicting the least recently used entry at capacity.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.entries[key]; ok {
		el.Value = &entry[K, V]{key: key, value: value, createdAt: now}
		c.order.MoveToFront(el)
		return
	}

	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry[K, V]).key)
	}

	c.entries[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, createdAt: now})
}

// Delete removes key if present.
func (c *LRU[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Stats returns cache performance statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}
