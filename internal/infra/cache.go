package infra

import (
	"sort"
	"sync"
	"time"
)

// Cache size limits to prevent unbounded memory growth
const (
	DefaultMaxCacheEntries = 1000 // Maximum number of cache entries
)

// cacheEntry holds cached data with expiration and LRU tracking
type cacheEntry[V any] struct {
	value      V
	expiresAt  time.Time
	accessedAt time.Time // For LRU eviction
}

// Cache is a TTL cache with LRU eviction. Expiry is lazy: stale entries are
// dropped when read or when the cache is over capacity, never by a timer.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry[V]
	maxEntries int
	now        func() time.Time

	hits   int64
	misses int64
}

// CacheOption configures a Cache
type CacheOption[V any] func(*Cache[V])

// WithClock replaces time.Now, for tests.
func WithClock[V any](now func() time.Time) CacheOption[V] {
	return func(c *Cache[V]) {
		c.now = now
	}
}

// NewCache creates a new cache holding at most maxEntries values
func NewCache[V any](maxEntries int, opts ...CacheOption[V]) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	c := &Cache[V]{
		entries:    make(map[string]*cacheEntry[V]),
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a cached value if it exists and hasn't expired
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return zero, false
	}
	e.accessedAt = now
	c.hits++
	return e.value, true
}

// Set stores a value with the specified TTL. A later Set for the same key
// replaces the earlier one.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &cacheEntry[V]{
		value:      value,
		expiresAt:  now.Add(ttl),
		accessedAt: now,
	}

	if len(c.entries) > c.maxEntries {
		c.evictLocked(now)
	}
}

// Delete removes a key from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Size returns the current number of entries, including expired ones not yet dropped
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// CacheStats contains cache statistics
type CacheStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns hit/miss counters
func (c *Cache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}

// evictLocked drops expired entries, then the least recently used ones
// (10% headroom) until the cache is back under its limit.
func (c *Cache[V]) evictLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) <= c.maxEntries {
		return
	}

	type entryInfo struct {
		key        string
		accessedAt time.Time
	}
	infos := make([]entryInfo, 0, len(c.entries))
	for k, e := range c.entries {
		infos = append(infos, entryInfo{key: k, accessedAt: e.accessedAt})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].accessedAt.Before(infos[j].accessedAt)
	})

	excess := len(c.entries) - c.maxEntries + c.maxEntries/10
	for i := 0; i < excess && i < len(infos); i++ {
		delete(c.entries, infos[i].key)
	}
}
