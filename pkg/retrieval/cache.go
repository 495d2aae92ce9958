package retrieval

import (
	"sync"
	"time"
)

// sweepInterval is how many writes pass between amortized expiry sweeps.
const sweepInterval = 64

type cacheEntry struct {
	docs      []Document
	expiresAt time.Time
	lastUsed  uint64
}

// Cache holds ranked lookups keyed by canonical cache key, with legacy
// aliases resolving to the same slot. Entries expire after the TTL and the
// least recently used entry is dropped once capacity is exceeded. Safe for
// concurrent readers; the merger serializes writers per key.
type Cache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	capacity int

	entries map[string]*cacheEntry
	aliases map[string]string

	// clock orders entries for LRU eviction; writes counts Puts for the
	// amortized expiry sweep.
	clock  uint64
	writes uint64

	now func() time.Time
}

// NewCache creates a cache. A non-positive TTL disables expiry; capacity
// is clamped to at least one entry.
func NewCache(ttl time.Duration, capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
		aliases:  make(map[string]string),
		now:      time.Now,
	}
}

// Get returns the cached documents for key (canonical or alias) and
// whether the lookup hit. Returned slices are copies.
func (c *Cache) Get(key string) ([]Document, bool) {
	c.mu.RLock()
	canonical := c.resolveLocked(key)
	entry, ok := c.entries[canonical]
	if ok && !c.expiredLocked(entry) {
		docs := cloneDocuments(entry.docs)
		c.mu.RUnlock()

		c.mu.Lock()
		c.clock++
		entry.lastUsed = c.clock
		c.mu.Unlock()
		return docs, true
	}
	c.mu.RUnlock()

	if ok {
		// Expired: drop it so capacity is not held by dead entries.
		c.mu.Lock()
		if entry, ok := c.entries[canonical]; ok && c.expiredLocked(entry) {
			delete(c.entries, canonical)
		}
		c.mu.Unlock()
	}
	return nil, false
}

// Put stores documents under the canonical key and maps every alias to it.
func (c *Cache) Put(canonical string, aliases []string, docs []Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock++
	c.writes++

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}
	c.entries[canonical] = &cacheEntry{
		docs:      cloneDocuments(docs),
		expiresAt: expiresAt,
		lastUsed:  c.clock,
	}
	for _, alias := range aliases {
		if alias != "" && alias != canonical {
			c.aliases[alias] = canonical
		}
	}

	if c.writes%sweepInterval == 0 {
		c.sweepLocked()
	}
	c.evictLocked()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// resolveLocked follows the alias map one step; aliases always point
// directly at a canonical key.
func (c *Cache) resolveLocked(key string) string {
	if canonical, ok := c.aliases[key]; ok {
		return canonical
	}
	return key
}

func (c *Cache) expiredLocked(e *cacheEntry) bool {
	return !e.expiresAt.IsZero() && c.now().After(e.expiresAt)
}

// sweepLocked drops expired entries and any aliases left dangling.
func (c *Cache) sweepLocked() {
	for key, entry := range c.entries {
		if c.expiredLocked(entry) {
			delete(c.entries, key)
		}
	}
	for alias, canonical := range c.aliases {
		if _, ok := c.entries[canonical]; !ok {
			delete(c.aliases, alias)
		}
	}
}

// evictLocked removes least recently used entries until under capacity.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.capacity {
		victim := ""
		var oldest uint64
		for key, entry := range c.entries {
			if victim == "" || entry.lastUsed < oldest || (entry.lastUsed == oldest && key < victim) {
				victim = key
				oldest = entry.lastUsed
			}
		}
		if victim == "" {
			return
		}
		delete(c.entries, victim)
		for alias, canonical := range c.aliases {
			if canonical == victim {
				delete(c.aliases, alias)
			}
		}
	}
}
