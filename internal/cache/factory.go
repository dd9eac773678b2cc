package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Backend string
	Prefix  string
}

// NewBackend builds the configured backing store wrapped in a LoggingBackend.
// redisClient is only used for the redis backend.
func NewBackend(cfg Config, redisClient redis.UniversalClient) Backend {
	switch cfg.Backend {
	case BackendRedis:
		return NewLoggingBackend(NewRedisBackend(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), BackendRedis)
	default:
		return NewLoggingBackend(NewMemoryBackend(), BackendMemory)
	}
}

// StartJanitor starts the periodic expiry sweep when b is, or wraps, a
// MemoryBackend. Redis expires keys on its own, so it reports false there.
func StartJanitor(ctx context.Context, b Backend, interval time.Duration) bool {
	for {
		switch v := b.(type) {
		case *MemoryBackend:
			v.StartJanitor(ctx, interval)
			return interval > 0
		case interface{ Unwrap() Backend }:
			b = v.Unwrap()
		default:
			return false
		}
	}
}
