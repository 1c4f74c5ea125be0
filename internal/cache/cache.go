package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores collection dates by key. A ttl of zero keeps the entry for the
// lifetime of the backend.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, dates []string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key builds the cache key for a district within a Landkreis.
func Key(landkreis, district string) string {
	return landkreis + ":" + district
}

// InMemoryCache is a mutex-guarded map. Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	dates     []string
	expiresAt time.Time // zero means never
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns a copy of the cached dates. (nil, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return cloneDates(entry.dates), true, nil
}

// Set stores a copy of dates under key.
func (c *InMemoryCache) Set(ctx context.Context, key string, dates []string, ttl time.Duration) error {
	entry := cacheEntry{dates: cloneDates(dates)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (c *InMemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func cloneDates(dates []string) []string {
	if dates == nil {
		return []string{}
	}
	return append([]string(nil), dates...)
}
