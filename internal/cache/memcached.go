package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/caseworks/worksheet-service/internal/models"
)

const keyPrefix = "worksheet:"

// envelope wraps a worksheet with freshness bookkeeping. Memcached only
// evicts at the hard expiration; freshness within that window is ours to track.
type envelope struct {
	Worksheet  models.Worksheet `json:"worksheet"`
	StoredAt   time.Time        `json:"storedAt"`
	FreshUntil time.Time        `json:"freshUntil"`
}

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client      *memcache.Client
	staleWindow time.Duration // how long past TTL entries stay addressable for stale serves
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. staleWindow extends
// the hard expiration so GetStale can still find expired entries.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleWindow time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleWindow: staleWindow}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Worksheet, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.Worksheet{}, false, err
	}
	if time.Now().After(env.FreshUntil) {
		return models.Worksheet{}, false, nil
	}
	return env.Worksheet, true, nil
}

// GetStale implements Cache.GetStale. Expired entries are returned while
// their age is within maxStaleAge.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Worksheet, bool, error) {
	env, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.Worksheet{}, false, err
	}
	if time.Since(env.StoredAt) > maxStaleAge {
		return models.Worksheet{}, false, nil
	}
	return env.Worksheet, true, nil
}

func (c *MemcachedCache) fetch(ctx context.Context, key string) (envelope, bool, error) {
	if ctx.Err() != nil {
		return envelope{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}
	var env envelope
	if err := json.Unmarshal(item.Value, &env); err != nil {
		return envelope{}, false, err
	}
	return env, true, nil
}

// Set implements Cache.Set. The hard memcached expiration is ttl plus the
// stale window so expired-but-servable entries survive.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Worksheet, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	now := time.Now()
	raw, err := json.Marshal(envelope{
		Worksheet:  value,
		StoredAt:   now,
		FreshUntil: now.Add(ttl),
	})
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.staleWindow).Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
