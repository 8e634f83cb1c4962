// Package cache wraps Redis as a best-effort TTL key-value store.
//
// Every caller must stay correct when Get returns a miss and Set fails
// silently: resolver lookups fall through to the network, LLM decisions
// are recomputed. A distinguished sentinel encodes cached negatives so
// "known miss" and "not cached" never collapse into one value.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// MissSentinel is stored verbatim for negative cache entries.
const MissSentinel = "__MISS__"

// Cache is a TTL-keyed blob store backed by Redis. A nil *Cache (or one
// whose connection never came up) degrades to a no-op.
type Cache struct {
	client *redis.Client
}

// New connects to Redis at the given URL (redis://host:port/db). A failed
// connection is logged once and yields a degraded cache, not an error:
// the pipeline runs without caching.
func New(url string) *Cache {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Printf("[Cache] Invalid REDIS_URL %q, running without cache: %v", url, err)
		return &Cache{}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("[Cache] Redis unreachable at %s, running without cache: %v", opts.Addr, err)
		return &Cache{}
	}

	log.Printf("[Cache] Connected to Redis at %s", opts.Addr)
	return &Cache{client: client}
}

// Close releases the underlying connection.
func (c *Cache) Close() {
	if c != nil && c.client != nil {
		_ = c.client.Close()
	}
}

// Get returns the raw cached value, or ("", false) on miss or any error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores a raw value with the given TTL. Failures are dropped.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Printf("[Cache] Set %s failed: %v", key, err)
	}
}

// Del removes a key. Failures are dropped.
func (c *Cache) Del(ctx context.Context, key string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, key).Err()
}

// GetJSON unmarshals a cached JSON blob into out. Returns false on miss,
// on a cached negative, or when the blob no longer parses.
func (c *Cache) GetJSON(ctx context.Context, key string, out interface{}) bool {
	val, ok := c.Get(ctx, key)
	if !ok || val == MissSentinel {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		c.Del(ctx, key)
		return false
	}
	return true
}

// IsNegative reports whether key holds a cached negative result.
func (c *Cache) IsNegative(ctx context.Context, key string) bool {
	val, ok := c.Get(ctx, key)
	return ok && val == MissSentinel
}

// SetJSON marshals v and stores it with the given TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, string(data), ttl)
}

// SetNegative records a known miss with the given TTL.
func (c *Cache) SetNegative(ctx context.Context, key string, ttl time.Duration) {
	c.Set(ctx, key, MissSentinel, ttl)
}
