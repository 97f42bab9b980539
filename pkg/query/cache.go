package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// PlanCache caches parsed statements keyed by query text.
type PlanCache struct {
	mu      sync.RWMutex
	entries map[string]*planEntry
	maxSize int
	maxAge  time.Duration
	hits    int64
	misses  int64
}

type planEntry struct {
	query     string
	stmt      *Select
	createdAt time.Time
	expiresAt time.Time
	hits      int64
}

// NewPlanCache creates a cache holding at most maxSize statements for at
// most maxAge each. A non-positive maxSize disables caching.
func NewPlanCache(maxSize int, maxAge time.Duration) *PlanCache {
	return &PlanCache{
		entries: make(map[string]*planEntry),
		maxSize: maxSize,
		maxAge:  maxAge,
	}
}

// Get returns the cached statement for query.
func (c *PlanCache) Get(query string) (*Select, bool) {
	key := c.keyFor(query)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	if c.maxAge > 0 && time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.hits++
	c.hits++
	c.mu.Unlock()

	return entry.stmt, true
}

// Put stores a parsed statement.
func (c *PlanCache) Put(query string, stmt *Select) {
	if c.maxSize <= 0 {
		return
	}
	key := c.keyFor(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := time.Now()
	c.entries[key] = &planEntry{
		query:     query,
		stmt:      stmt,
		createdAt: now,
		expiresAt: now.Add(c.maxAge),
	}
}

// InvalidateAll clears the cache.
func (c *PlanCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*planEntry)
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *PlanCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.hitRate(),
	}
}

func (c *PlanCache) hitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *PlanCache) keyFor(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:])
}

func (c *PlanCache) evictOldest() {
	var oldest *planEntry
	var oldestKey string

	for key, entry := range c.entries {
		if oldest == nil || entry.createdAt.Before(oldest.createdAt) {
			oldest = entry
			oldestKey = key
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// CacheStats contains plan cache statistics.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
	HitRate float64
}
