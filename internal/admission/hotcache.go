package admission

import (
	"container/list"
	"sync"
	"time"
)

// HotCacheKey is the composite key a response is cached under: route,
// dataset, the normalized query fingerprint, and the catalog epoch at the
// time of caching. A catalog-epoch change implicitly invalidates every entry
// keyed to the old epoch, since a lookup with the new epoch simply misses.
type HotCacheKey struct {
	Route       string
	Dataset     string
	Fingerprint string
	Epoch       string
}

type hotCacheEntry struct {
	key       HotCacheKey
	value     []byte
	expiresAt time.Time
	elem      *list.Element
}

// HotCache is a small TTL-and-capacity bounded response cache keyed by
// HotCacheKey, with insertion-order eviction once at capacity.
type HotCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[HotCacheKey]*hotCacheEntry
	order    *list.List // oldest-first
}

// NewHotCache returns a cache with the given TTL and maximum entry count.
func NewHotCache(ttl time.Duration, capacity int) *HotCache {
	if capacity < 1 {
		capacity = 1
	}
	return &HotCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[HotCacheKey]*hotCacheEntry),
		order:    list.New(),
	}
}

// Get returns the cached value for key if present and not expired.
func (c *HotCache) Get(key HotCacheKey, now time.Time) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.removeLocked(e)
		return nil, false
	}
	return e.value, true
}

// Put inserts or refreshes the value for key, evicting the oldest entry if
// the cache is at capacity.
func (c *HotCache) Put(key HotCacheKey, value []byte, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
	for len(c.entries) >= c.capacity {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*hotCacheEntry))
	}

	e := &hotCacheEntry{key: key, value: value, expiresAt: now.Add(c.ttl)}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
}

func (c *HotCache) removeLocked(e *hotCacheEntry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}

// Len returns the current entry count, for tests and observability.
func (c *HotCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
