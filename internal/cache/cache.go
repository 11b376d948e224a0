package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache stores raw provider payloads keyed by request fingerprint.
// Get returns the payload if present and not expired, Set stores a payload
// with TTL, Clear drops every entry (used when the unit preference changes).
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// InMemoryCache implements Cache using a map with per-entry expiry. Expired
// entries are removed on access. Safe for concurrent use; the response cache
// is shared by every request passing through the weather client.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

// cacheEntry holds a cached payload and the instant it was stored.
type cacheEntry struct {
	payload  json.RawMessage
	storedAt time.Time
	ttl      time.Duration
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves the cached payload for the key if present and younger than
// its TTL. Returns (payload, true, nil) on hit, (nil, false, nil) on miss or
// expiry. Stale entries are deleted on access.
func (c *InMemoryCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if time.Since(entry.storedAt) >= entry.ttl {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.payload, true, nil
}

// Set stores a payload with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		payload:  payload,
		storedAt: time.Now(),
		ttl:      ttl,
	}
	return nil
}

// Clear removes every entry.
func (c *InMemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]cacheEntry)
	return nil
}
