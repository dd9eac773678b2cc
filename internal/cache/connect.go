package cache

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

type ConnectOptions struct {
	PingTimeout time.Duration // per attempt (default: 2s)
	BaseBackoff time.Duration // initial backoff (default: 250ms)
	MaxBackoff  time.Duration // cap (default: 30s)
	Logger      *zap.Logger
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 250 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Connect pings b and attaches it to c once it answers. The first attempt is
// synchronous; if it fails, attempts continue in the background with
// exponential backoff and full jitter until success or ctx is done. The
// returned channel is closed when b is attached.
//
// The cache serves misses in the meantime, so startup does not depend on the
// backing store being reachable.
func Connect(ctx context.Context, c *ResultCache, b Backend, opts ConnectOptions) <-chan struct{} {
	opts = opts.withDefaults()
	attached := make(chan struct{})

	err := ping(ctx, b, opts.PingTimeout)
	if err == nil {
		c.Attach(b)
		opts.Logger.Info("cache backend connected")
		close(attached)
		return attached
	}
	opts.Logger.Warn("cache backend unreachable, serving without cache", zap.Error(err))

	go func() {
		for attempt := 0; ; attempt++ {
			backoff := computeBackoff(opts.BaseBackoff, opts.MaxBackoff, attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			err := ping(ctx, b, opts.PingTimeout)
			if err == nil {
				c.Attach(b)
				opts.Logger.Info("cache backend connected", zap.Int("attempts", attempt+2))
				close(attached)
				return
			}
			opts.Logger.Debug("cache backend still unreachable",
				zap.Int("attempt", attempt+2),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}
	}()

	return attached
}

func ping(ctx context.Context, b Backend, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return b.Ping(pingCtx)
}

// computeBackoff returns a random duration in [0, min(base*2^attempt, max)).
func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	// 2^10 is plenty before the cap kicks in
	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	ceiling := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if max > 0 && ceiling > max {
		ceiling = max
	}

	return time.Duration(rand.Float64() * float64(ceiling))
}
