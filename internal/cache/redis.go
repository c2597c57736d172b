package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

const (
	tasksCacheKey = "tasks:all"
	usersCacheKey = "users:all"
)

var (
	client *redis.Client
	once   sync.Once
)

// Client returns the global Redis client, or nil when REDIS_URL is unset
// or the connection could not be established. Callers treat nil as
// "cache disabled" and fall through to the database.
func Client(ctx context.Context) *redis.Client {
	once.Do(func() {
		cfg := config.Get()
		if cfg.RedisURL == "" {
			return
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error(ctx, "Invalid REDIS_URL", "error", err, "url", cfg.RedisURL)
			return
		}
		opts.PoolSize = cfg.RedisPoolSize
		c := redis.NewClient(opts)
		if err := c.Ping(ctx).Err(); err != nil {
			logger.Error(ctx, "Redis ping failed", "error", err)
			return
		}
		client = c
		logger.Info(ctx, "Redis client initialized", "pool_size", cfg.RedisPoolSize)
	})
	return client
}

// GetRawTasks reads the rendered tasks list from Redis.
// Returns (nil, false) on miss, error, or when the cache is disabled.
func GetRawTasks(ctx context.Context) ([]byte, bool) {
	return getRaw(ctx, tasksCacheKey)
}

// SetRawTasks stores the rendered tasks list with the configured TTL.
func SetRawTasks(ctx context.Context, b []byte) {
	setRaw(ctx, tasksCacheKey, b)
}

// GetRawUsers reads the rendered users list from Redis.
func GetRawUsers(ctx context.Context) ([]byte, bool) {
	return getRaw(ctx, usersCacheKey)
}

// SetRawUsers stores the rendered users list with the configured TTL.
func SetRawUsers(ctx context.Context, b []byte) {
	setRaw(ctx, usersCacheKey, b)
}

// InvalidateTasks deletes the tasks key so the next read goes to the DB.
func InvalidateTasks(ctx context.Context) {
	invalidate(ctx, tasksCacheKey)
}

// InvalidateUsers deletes the users key so the next read goes to the DB.
func InvalidateUsers(ctx context.Context) {
	invalidate(ctx, usersCacheKey)
}

func getRaw(ctx context.Context, key string) ([]byte, bool) {
	c := Client(ctx)
	if c == nil {
		return nil, false
	}
	b, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Debug(ctx, "Redis get failed", "error", err, "key", key)
		return nil, false
	}
	return b, true
}

func setRaw(ctx context.Context, key string, b []byte) {
	c := Client(ctx)
	if c == nil {
		return
	}
	cfg := config.Get()
	ttl := time.Duration(cfg.CacheTTL) * time.Second
	if err := c.Set(ctx, key, b, ttl).Err(); err != nil {
		logger.Debug(ctx, "Redis set failed", "error", err, "key", key)
	}
}

func invalidate(ctx context.Context, key string) {
	c := Client(ctx)
	if c == nil {
		return
	}
	if err := c.Del(ctx, key).Err(); err != nil {
		logger.Debug(ctx, "Redis invalidate failed", "error", err, "key", key)
	}
}
