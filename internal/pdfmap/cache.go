// internal/pdfmap/cache.go
package pdfmap

import (
	"fmt"
	"sync"
	"time"
)

// LoaderFunc fetches the raw template PDF bytes for a form code.
type LoaderFunc func(formCode string) ([]byte, error)

// TemplateCache caches template PDFs keyed by form code, with a TTL and a
// capacity bound. The clock is injected so expiry is testable; the cache is
// owned by whichever process composes the PDF pipeline, never ambient state.
type TemplateCache struct {
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	ttl      time.Duration
	capacity int
	now      func() time.Time
	load     LoaderFunc
}

type cacheEntry struct {
	data     []byte
	loadedAt time.Time
}

// NewTemplateCache constructs a cache. A nil clock defaults to time.Now.
func NewTemplateCache(ttl time.Duration, capacity int, load LoaderFunc, now func() time.Time) (*TemplateCache, error) {
	if load == nil {
		return nil, fmt.Errorf("template loader is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive")
	}
	if now == nil {
		now = time.Now
	}
	return &TemplateCache{
		entries:  make(map[string]*cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		load:     load,
	}, nil
}

// Get returns the template for a form code, loading it on a miss or after
// the TTL has elapsed.
func (c *TemplateCache) Get(formCode string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[formCode]; ok {
		if c.ttl <= 0 || c.now().Sub(entry.loadedAt) < c.ttl {
			return entry.data, nil
		}
		delete(c.entries, formCode)
	}

	data, err := c.load(formCode)
	if err != nil {
		return nil, fmt.Errorf("failed to load template for form %s: %w", formCode, err)
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}
	c.entries[formCode] = &cacheEntry{data: data, loadedAt: c.now()}
	return data, nil
}

// Len reports the number of cached templates.
func (c *TemplateCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TemplateCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.loadedAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.loadedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
