package cache

import (
	"sync"
	"time"
)

// TTLCache is a small in-process cache with per-entry expiry and an
// injectable clock. It backs dashboard metadata loads; unlike a package
// global, each instance is handed to its consumer explicitly so tests can
// control time and never leak entries between runs.
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]ttlEntry
}

type ttlEntry struct {
	value     interface{}
	expiresAt time.Time
}

// NewTTLCache creates a cache with the given entry lifetime. A nil clock
// uses time.Now.
func NewTTLCache(ttl time.Duration, clock func() time.Time) *TTLCache {
	if clock == nil {
		clock = time.Now
	}
	return &TTLCache{
		ttl:     ttl,
		now:     clock,
		entries: make(map[string]ttlEntry),
	}
}

// Get returns the cached value if present and not expired. Expired entries
// are dropped on access.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value with the cache's TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = ttlEntry{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes a single entry.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge drops every entry.
func (c *TTLCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]ttlEntry)
}

// PurgeExpired drops only entries past their expiry and reports how many
// were removed.
func (c *TTLCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of entries, expired ones included.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
