// Package cache is a best-effort Redis read cache. Every operation
// degrades to a miss (or a no-op) on any backend error: callers fall back
// to the authoritative store and must never fail because of the cache.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portalwatch/portalwatch/app/metrics"
)

// Cache wraps a Redis client. A nil *Cache is a valid handle that behaves
// as an always-empty cache, so the service runs without Redis.
type Cache struct {
	client *redis.Client
	prefix string
}

func New(addr, prefix string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	slog.Info("Connected to Redis", "addr", addr)

	return &Cache{
		client: client,
		prefix: prefix,
	}, nil
}

// Get retrieves a value. The second return value reports a hit; any
// backend error is a miss.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if c == nil {
		return "", false
	}

	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		slog.Warn("Cache get failed", "key", key, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues("get", "error").Inc()
		return "", false
	}

	metrics.CacheOperationsTotal.WithLabelValues("get", "success").Inc()
	return value, true
}

// Set stores a value with a TTL. Failures are logged, never surfaced.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c == nil {
		return
	}

	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		slog.Warn("Cache set failed", "key", key, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues("set", "error").Inc()
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues("set", "success").Inc()
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c == nil {
		return
	}

	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		slog.Warn("Cache delete failed", "key", key, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues("delete", "error").Inc()
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues("delete", "success").Inc()
}

// Exists reports whether a key is present.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	if c == nil {
		return false
	}

	count, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		slog.Warn("Cache exists check failed", "key", key, "error", err)
		return false
	}
	return count > 0
}

// ClearPattern deletes every key matching the glob pattern (the configured
// prefix is prepended). Returns the number of keys removed.
func (c *Cache) ClearPattern(ctx context.Context, pattern string) int {
	if c == nil {
		return 0
	}

	deleted := 0
	iter := c.client.Scan(ctx, 0, c.prefix+pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Warn("Cache delete failed during pattern clear", "key", iter.Val(), "error", err)
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		slog.Warn("Cache pattern scan failed", "pattern", pattern, "error", err)
		metrics.CacheOperationsTotal.WithLabelValues("clear_pattern", "error").Inc()
		return deleted
	}

	metrics.CacheOperationsTotal.WithLabelValues("clear_pattern", "success").Inc()
	return deleted
}

// Health reports cache availability for the healthcheck endpoint.
func (c *Cache) Health(ctx context.Context) map[string]any {
	if c == nil {
		return map[string]any{"status": "disabled"}
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}
	}

	health := map[string]any{"status": "healthy"}
	if size, err := c.client.DBSize(ctx).Result(); err == nil {
		health["key_count"] = size
	}
	return health
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
