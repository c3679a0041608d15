// Package cache holds provider responses keyed by content and model
// configuration fingerprints.
package cache

import (
	"sync"
	"time"

	"github.com/cuongbtq/media-pipeline/internal/metrics"
)

const (
	// DefaultTTL is how long a response stays valid
	DefaultTTL = time.Hour
	// DefaultCapacity is the maximum number of live entries
	DefaultCapacity = 500
)

// Config holds cache configuration
type Config struct {
	TTL      time.Duration
	Capacity int
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is a bounded TTL store. Once full, inserts are rejected until
// entries expire; there is no recency-based eviction.
type Cache struct {
	mu       sync.RWMutex
	entries  map[string]entry
	ttl      time.Duration
	capacity int
	now      func() time.Time
}

// New creates a cache, falling back to defaults for zero values
func New(cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]entry),
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		now:      time.Now,
	}
}

// Get returns the cached value for key if present and not expired
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}

	if !c.now().Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return "", false
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return e.value, true
}

// Set stores value under key. It reports false when the cache is full and
// the key is not already present.
func (c *Cache) Set(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.sweepLocked(now)
		if len(c.entries) >= c.capacity {
			return false
		}
	}

	c.entries[key] = entry{value: value, expiresAt: now.Add(c.ttl)}
	return true
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweepLocked drops expired entries; caller holds the write lock
func (c *Cache) sweepLocked(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
