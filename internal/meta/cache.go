package meta

import "sync"

// PinnedCache is the "concurrent map with per-entry lifetime pinning"
// spec §5 requires for the async read-only path: concurrent readers may
// Pin an entry to keep it alive past an Evict, and the writer can safely
// Evict entries no longer reachable without invalidating a reader's
// in-flight borrow.
//
// Grounded on vechain-thor/cache's mutex+map cache idiom (cache/prio_cache.go,
// cache/lru.go) generalized with a refcount per entry; no pack library
// offers refcounted pinning directly (hashicorp/golang-lru, wired into
// internal/writer's decoded cold-node cache, is eviction-only and would
// drop an entry still borrowed by a reader).
type PinnedCache struct {
	mu      sync.Mutex
	entries map[int64]*pinnedEntry
	maxSize int
	order   []int64 // approximate LRU order, oldest first
}

type pinnedEntry struct {
	value  interface{}
	pins   int
	evicted bool
}

// NewPinnedCache creates a cache that tries to stay under maxSize entries,
// never evicting a currently-pinned entry.
func NewPinnedCache(maxSize int) *PinnedCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &PinnedCache{entries: make(map[int64]*pinnedEntry), maxSize: maxSize}
}

// Put inserts or replaces the value for key.
func (c *PinnedCache) Put(key int64, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.evicted = false
		return
	}
	c.entries[key] = &pinnedEntry{value: value}
	c.order = append(c.order, key)
	c.evictLocked()
}

// Pin returns the value for key and increments its pin count, preventing
// eviction until a matching Unpin. Returns ok=false if key is absent.
func (c *PinnedCache) Pin(key int64) (value interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found {
		return nil, false
	}
	e.pins++
	return e.value, true
}

// Unpin releases a pin obtained from Pin. If the entry was marked evicted
// while pinned, it is removed once the last pin is released.
func (c *PinnedCache) Unpin(key int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.pins--
	if e.pins <= 0 && e.evicted {
		delete(c.entries, key)
	}
}

// Evict marks key for removal: unpinned entries are deleted immediately,
// pinned entries are removed lazily once their last Unpin runs. Used when
// the writer evicts a version from the history ring (spec §4.2
// "cancellation": in-flight reads complete harmlessly into caches that are
// dropped).
func (c *PinnedCache) Evict(key int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return
	}
	if e.pins <= 0 {
		delete(c.entries, key)
		return
	}
	e.evicted = true
}

func (c *PinnedCache) evictLocked() {
	for len(c.entries) > c.maxSize && len(c.order) > 0 {
		key := c.order[0]
		c.order = c.order[1:]
		e, ok := c.entries[key]
		if !ok {
			continue
		}
		if e.pins <= 0 {
			delete(c.entries, key)
		}
	}
}

// Len returns the current entry count (for tests/stats).
func (c *PinnedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
