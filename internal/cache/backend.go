package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Backend when the key is absent or expired.
// It is a clean miss, not a fault.
var ErrNotFound = errors.New("cache: key not found")

// Backend is the backing store protocol behind ResultCache: textual key to
// serialized value with a TTL set at write time. Implemented by the memory
// backend (dev, tests) and the Redis backend (prod).
//
// Any error other than ErrNotFound is treated by ResultCache as the store
// being unavailable.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Flush removes every key owned by this backend.
	Flush(ctx context.Context) error
	Ping(ctx context.Context) error
}
