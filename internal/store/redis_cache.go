package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noctisids/noctis/internal/idserr"
)

// RedisConfig holds connection parameters for the fast-path cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Cache wraps go-redis for two fast paths in front of the Store: C9's
// dashboard summary cache, and C5's learning-mode sample-count mirror. Once
// a Cache is open, a miss or a failed Redis call is never fatal: callers
// fall back to the Postgres query it would otherwise have saved. OpenCache
// itself fails when Redis does not answer a ping; idsd-orchestrator then
// runs without the cache, while idsd-queryapi exits.
type Cache struct {
	client *redis.Client
}

func OpenCache(cfg RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, &idserr.StoreError{Op: "redis ping", Err: err}
	}
	return &Cache{client: client}, nil
}

func (c *Cache) Close() error { return c.client.Close() }

// GetJSON decodes a cached value into dest, reporting whether it was found.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, &idserr.StoreError{Op: "cache get " + key, Err: err}
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, &idserr.StoreError{Op: "cache decode " + key, Err: err}
	}
	return true, nil
}

// SetJSON caches value under key with ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &idserr.StoreError{Op: "cache encode " + key, Err: err}
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return &idserr.StoreError{Op: "cache set " + key, Err: err}
	}
	return nil
}

// Incr increments key and returns its new value, creating it at 1 if
// absent. Used for the learn:{src_ip}:{metric} learning-mode counters.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, &idserr.StoreError{Op: "cache incr " + key, Err: err}
	}
	return n, nil
}

// GetInt reads an integer counter, reporting whether it was found.
func (c *Cache) GetInt(ctx context.Context, key string) (int64, bool, error) {
	n, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &idserr.StoreError{Op: "cache get " + key, Err: err}
	}
	return n, true, nil
}

// SetInt repopulates a counter from the authoritative Store value on a
// cache miss; never the reverse.
func (c *Cache) SetInt(ctx context.Context, key string, value int64) error {
	if err := c.client.Set(ctx, key, value, 0).Err(); err != nil {
		return &idserr.StoreError{Op: "cache set " + key, Err: err}
	}
	return nil
}
