package cache

import (
	"context"
	"sync"
	"time"

	"github.com/caseworks/worksheet-service/internal/models"
)

// Cache defines the interface for worksheet caching implementations.
// Get returns cached data if present and fresh; GetStale also returns expired
// entries whose age is within maxStaleAge. Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Worksheet, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Worksheet, bool, error)
	Set(ctx context.Context, key string, value models.Worksheet, ttl time.Duration) error
}

// InMemoryCache implements Cache using a mutex-guarded map. Expired entries
// are retained for stale fallback and dropped once GetStale observes them
// beyond maxStaleAge.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
}

// cacheEntry stores a cached worksheet with freshness bookkeeping.
type cacheEntry struct {
	value     models.Worksheet
	storedAt  time.Time
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached worksheet for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (zero, false, nil) on miss or
// expiration. Expired entries stay behind for GetStale.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Worksheet, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.Worksheet{}, false, nil
	}

	if time.Now().After(entry.expiresAt) {
		return models.Worksheet{}, false, nil
	}

	return entry.value, true, nil
}

// GetStale retrieves the cached worksheet even when expired, as long as its
// age is within maxStaleAge. Entries older than that are removed.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Worksheet, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return models.Worksheet{}, false, nil
	}

	if time.Since(entry.storedAt) > maxStaleAge {
		delete(c.data, key)
		return models.Worksheet{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a worksheet in cache with the specified TTL duration.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Worksheet, ttl time.Duration) error {
	now := time.Now()
	c.mu.Lock()
	c.data[key] = cacheEntry{
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	c.mu.Unlock()
	return nil
}
