package cache

import (
	"strings"
	"sync"
	"time"
)

// now is a small indirection to allow test stubbing if needed.
var now = time.Now

// Entry is the snapshot of a cached item handed back to callers.
// It is a copy; mutating it does not affect the cache.
type Entry[V any] struct {
	Payload   V
	Validator string // opaque ETag usable in a conditional refetch
	StoredAt  time.Time
}

// Stats reports a point-in-time view of the cache contents.
type Stats struct {
	Total     int           `json:"total"`
	Fresh     int           `json:"fresh"`
	Stale     int           `json:"stale"`
	Capacity  int           `json:"capacity"`
	Window    time.Duration `json:"freshness_window"`
	OldestAge time.Duration `json:"oldest_age"`
}

// node is an element of the doubly-linked recency list.
// head is most recently used, tail is the eviction candidate.
type node[V any] struct {
	key       string
	payload   V
	validator string
	storedAt  time.Time
	prev      *node[V]
	next      *node[V]
}

// Cache is a bounded, goroutine-safe LRU cache with a uniform freshness
// window. A stale entry is still returned by Get; staleness is reported to
// the caller, never used to hide data. Eviction only happens when the
// capacity bound is exceeded by a Put.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*node[V]
	head     *node[V]
	tail     *node[V]
	capacity int
	window   time.Duration
}

// New creates a cache holding at most capacity entries, each considered
// fresh for the given window after it was last stored or refreshed.
// A window of zero means entries are stale as soon as they are stored.
func New[V any](capacity int, window time.Duration) *Cache[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Cache[V]{
		entries:  make(map[string]*node[V]),
		capacity: capacity,
		window:   window,
	}
}

// Get returns a snapshot of the entry for key and whether it is fresh.
// A hit marks the key as most recently used. Misses return (nil, false).
func (c *Cache[V]) Get(key string) (*Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(n)

	fresh := now().Sub(n.storedAt) < c.window
	return &Entry[V]{Payload: n.payload, Validator: n.validator, StoredAt: n.storedAt}, fresh
}

// Put inserts or replaces the entry for key, stamps it as stored now and
// marks it most recently used. If the insert pushes the cache over capacity,
// least-recently-used entries are evicted until the bound holds again.
func (c *Cache[V]) Put(key string, payload V, validator string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		n.payload = payload
		n.validator = validator
		n.storedAt = now()
		c.moveToFront(n)
		return
	}

	n := &node[V]{key: key, payload: payload, validator: validator, storedAt: now()}
	c.entries[key] = n
	c.pushFront(n)

	for len(c.entries) > c.capacity {
		c.evictLRU()
	}
}

// RefreshFreshness re-stamps an existing entry as stored now without touching
// its payload or validator. Used after an upstream confirms "not modified".
// No-op if the key is absent.
func (c *Cache[V]) RefreshFreshness(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.entries[key]; ok {
		n.storedAt = now()
		c.moveToFront(n)
	}
}

// Invalidate removes the entry for key if present. Returns true if it existed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(n)
	delete(c.entries, key)
	return true
}

// InvalidateByPrefix removes every entry whose key starts with prefix and
// returns the count removed. An empty prefix removes everything.
func (c *Cache[V]) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toDelete []string
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			toDelete = append(toDelete, k)
		}
	}
	for _, k := range toDelete {
		c.remove(c.entries[k])
		delete(c.entries, k)
	}
	return len(toDelete)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*node[V])
	c.head = nil
	c.tail = nil
}

// Keys returns a snapshot of all cache keys, most recently used first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.entries))
	for n := c.head; n != nil; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Stats scans all entries and classifies freshness with the same formula as
// Get. It does not touch recency order.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowTs := now()
	s := Stats{
		Total:    len(c.entries),
		Capacity: c.capacity,
		Window:   c.window,
	}
	for _, n := range c.entries {
		age := nowTs.Sub(n.storedAt)
		if age < c.window {
			s.Fresh++
		} else {
			s.Stale++
		}
		if age > s.OldestAge {
			s.OldestAge = age
		}
	}
	return s
}

// --- Recency list operations (caller must hold mu) ---

func (c *Cache[V]) pushFront(n *node[V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *Cache[V]) remove(n *node[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = nil
}

func (c *Cache[V]) moveToFront(n *node[V]) {
	if c.head == n {
		return
	}
	c.remove(n)
	c.pushFront(n)
}

func (c *Cache[V]) evictLRU() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
