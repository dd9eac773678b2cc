package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// GetJSON reads key and decodes it into a T. A value that fails to decode is
// treated like a backend fault: reported as a miss.
func GetJSON[T any](ctx context.Context, c *ResultCache, key string) (T, bool) {
	var v T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		c.fault("decode", key, err)
		var zero T
		return zero, false
	}
	return v, true
}

// SetJSON encodes v and stores it. Encoding failures are dropped.
func SetJSON(ctx context.Context, c *ResultCache, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.fault("encode", key, err)
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// GetOrCompute returns the cached T for key, or runs compute and caches its
// result. Concurrent misses on the same key share one compute call. That call
// keeps the values of the context that started it but not its cancellation,
// so one caller going away does not fail the others; it is bounded by the
// cache's compute timeout instead. Each caller stops waiting when its own ctx
// is done. Errors from compute are returned and never cached. The bool
// reports a cache hit.
func GetOrCompute[T any](
	ctx context.Context,
	c *ResultCache,
	key string,
	ttl time.Duration,
	compute func(context.Context) (T, error),
) (T, bool, error) {
	var zero T
	if v, ok := GetJSON[T](ctx, c, key); ok {
		return v, true, nil
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		cctx := shared
		if c.computeTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(shared, c.computeTimeout)
			defer cancel()
		}

		v, err := compute(cctx)
		if err != nil {
			return nil, err
		}
		SetJSON(cctx, c, key, v, ttl)
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}

	if res.Err != nil {
		return zero, false, res.Err
	}
	v, ok := res.Val.(T)
	if !ok {
		return zero, false, fmt.Errorf("cache: unexpected shared result %T for %q", res.Val, key)
	}
	return v, false, nil
}
