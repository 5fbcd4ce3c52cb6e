// Package cache provides a small bounded in-memory cache with FIFO
// eviction: when capacity is exceeded the oldest-inserted entry is removed,
// independent of access frequency. All operations are safe for concurrent
// use; racing Puts on the same key resolve last-writer-wins.
package cache

import (
	"sync"
	"time"
)

// entry is a stored value with bookkeeping metadata.
type entry[V any] struct {
	value       V
	insertedAt  time.Time
	accessCount int
}

// Cache is a bounded string-keyed cache. The zero value is not usable;
// use New.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*entry[V]
	order    []string // insertion order, oldest first
}

// New creates a Cache holding at most capacity entries.
// Non-positive capacities are treated as 1.
func New[V any](capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Cache[V]{
		capacity: capacity,
		entries:  make(map[string]*entry[V], capacity),
	}
}

// Get returns the value for key and whether it was present,
// incrementing the entry's access count on a hit.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e.accessCount++
	return e.value, true
}

// Put inserts or replaces the value for key, evicting the oldest-inserted
// entry first when the cache is full. Replacing an existing key keeps its
// original insertion position.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &entry[V]{value: value, insertedAt: time.Now()}
	c.order = append(c.order, key)
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V], c.capacity)
	c.order = nil
}

// AccessCount returns how many times key has been read since insertion.
// It reports 0 for absent keys.
func (c *Cache[V]) AccessCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.accessCount
	}
	return 0
}
