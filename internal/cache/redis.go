package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements Cache backed by redis. Expiry is delegated to redis
// per-key TTLs; Clear removes only keys carrying the shared prefix so the
// cache can coexist with other users of the same database.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to redis and verifies the connection with a ping.
func NewRedisCache(addr, password string, db int, connectTimeout time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Get implements Cache.Get. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return json.RawMessage(val), true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	if err := c.client.Set(ctx, keyPrefix+key, []byte(payload), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear implements Cache.Clear by scanning and deleting prefixed keys.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the redis client. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
