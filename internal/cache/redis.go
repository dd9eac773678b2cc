package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultScanCount = 500

// keyspace keeps cache keys apart from other users of the same prefix, such
// as the rate governor's windows, so Flush can never reach them.
const keyspace = "cache"

// RedisBackend implements Backend using Redis.
type RedisBackend struct {
	client    redis.UniversalClient
	prefix    string
	scanCount int64
}

type RedisConfig struct {
	Prefix string
	// ScanCount is the COUNT hint used while flushing (default: 500).
	ScanCount int64
}

// NewRedisBackend creates a Redis-backed cache store.
func NewRedisBackend(client redis.UniversalClient, config RedisConfig) *RedisBackend {
	if config.ScanCount <= 0 {
		config.ScanCount = defaultScanCount
	}
	return &RedisBackend{
		client:    client,
		prefix:    config.Prefix,
		scanCount: config.ScanCount,
	}
}

// key builds the final Redis key: <prefix>:cache:<k>.
func (c *RedisBackend) key(k string) string {
	return c.namespace() + k
}

func (c *RedisBackend) namespace() string {
	if c.prefix == "" {
		return keyspace + ":"
	}
	return c.prefix + ":" + keyspace + ":"
}

func (c *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	res, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return res, nil
}

// Set stores a value with TTL. If ttl <= 0, it does nothing.
func (c *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	if ttl <= 0 {
		return nil
	}

	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

func (c *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Flush walks every cache key with SCAN and deletes them in batches. Cost is
// linear in the keyspace. Keys outside <prefix>:cache: are left alone.
func (c *RedisBackend) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}

	pattern := c.namespace() + "*"

	iter := c.client.Scan(ctx, 0, pattern, c.scanCount).Iterator()
	batch := make([]string, 0, c.scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= c.scanCount {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis flush del failed: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis flush scan failed: %w", err)
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis flush del failed: %w", err)
		}
	}
	return nil
}

// Ping checks if Redis connection is healthy.
func (c *RedisBackend) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.client.Ping(ctx).Err()
}
