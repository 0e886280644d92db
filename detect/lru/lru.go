package lru

import (
	"container/list"
	"sync"
	"time"
)

// Record is the per-source state owned by the cache. It bridges hot
// per-source data between evaluation ticks without unbounded memory growth.
type Record struct {
	Key        string    `json:"key"`
	Rate       float64   `json:"rate"`
	Score      float64   `json:"score"`
	LastAction string    `json:"last_action,omitempty"`
	LastSeen   time.Time `json:"last_seen"`
	Hits       int       `json:"hits"`
}

type entry struct {
	key string
	rec Record
}

// Cache is a bounded key -> Record store with least-recently-used eviction.
// Get and Put promote the touched key to most-recently-used; Peek does not.
// Both are O(1): a hash map indexes into a doubly linked recency list.
type Cache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	evicted  uint64
}

// NewCache creates a cache bounded to capacity entries. Capacity below 1 is
// clamped to 1 so the cache can always hold the key just written.
func NewCache(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Capacity returns the configured bound N.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Len returns the current number of entries. Always <= Capacity.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Evictions returns the total number of entries evicted so far.
func (c *Cache) Evictions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evicted
}

// Get returns the record for key and marks it most-recently-used.
// A miss changes neither size nor order.
func (c *Cache) Get(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Record{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*entry).rec, true
}

// Peek returns the record for key without touching recency order. Used for
// diagnostic reads that must not perturb eviction behavior.
func (c *Cache) Peek(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Record{}, false
	}
	return el.Value.(*entry).rec, true
}

// Put inserts or overwrites the record for key and marks it
// most-recently-used. If the insert pushes the cache over capacity the
// single least-recently-used key is evicted and returned. Overwriting an
// existing key never grows the cache and never evicts that same key.
func (c *Cache) Put(key string, rec Record) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*entry).rec = rec
		c.order.MoveToFront(el)
		return "", false
	}

	c.items[key] = c.order.PushFront(&entry{key: key, rec: rec})
	if c.order.Len() <= c.capacity {
		return "", false
	}

	tail := c.order.Back()
	victim := tail.Value.(*entry).key
	c.order.Remove(tail)
	delete(c.items, victim)
	c.evicted++
	return victim, true
}

// Remove deletes key outright (admin unblock, simulation reset).
func (c *Cache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.items, key)
	return true
}

// Snapshot returns copies of all records in recency order, most recent
// first. Read-only; does not perturb ordering.
func (c *Cache) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).rec)
	}
	return out
}
