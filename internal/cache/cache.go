package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"matatu-gateway/internal/metrics"
)

// DefaultTTL applies to Set calls made with a non-positive ttl.
const DefaultTTL = 300 * time.Second

// Status is the internal outcome of a lookup. Callers of Get see Miss and
// BackendUnavailable as the same thing.
type Status int

const (
	StatusMiss Status = iota
	StatusHit
	StatusBackendUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusHit:
		return "hit"
	case StatusBackendUnavailable:
		return "unavailable"
	default:
		return "miss"
	}
}

// Result is what Lookup returns.
type Result struct {
	Status Status
	Value  []byte
}

func (r Result) Hit() bool { return r.Status == StatusHit }

type backendHolder struct {
	b Backend
}

// ResultCache is a best-effort TTL cache in front of expensive lookups.
//
// It fails open: a backend fault on read is reported as a miss, and a fault
// on write, delete or clear is dropped. Nothing here returns an error, so
// correctness never depends on the cache. Until a backend is attached every
// call behaves like a miss or a no-op.
type ResultCache struct {
	backend        atomic.Pointer[backendHolder]
	defaultTTL     time.Duration
	opTimeout      time.Duration
	computeTimeout time.Duration
	logger         *zap.Logger
	faultLog       rate.Sometimes
	group          singleflight.Group
}

type Option func(*ResultCache)

func WithLogger(l *zap.Logger) Option {
	return func(c *ResultCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultTTL replaces DefaultTTL for this cache.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *ResultCache) {
		if d > 0 {
			c.defaultTTL = d
		}
	}
}

// WithOpTimeout bounds every backend call. Zero leaves only the caller's ctx.
func WithOpTimeout(d time.Duration) Option {
	return func(c *ResultCache) { c.opTimeout = d }
}

// WithComputeTimeout bounds a shared GetOrCompute call. Zero means no bound.
func WithComputeTimeout(d time.Duration) Option {
	return func(c *ResultCache) { c.computeTimeout = d }
}

// WithFaultLogInterval limits backend fault logging to one line per interval.
func WithFaultLogInterval(d time.Duration) Option {
	return func(c *ResultCache) { c.faultLog.Interval = d }
}

// New returns a cache over backend. backend may be nil and attached later.
func New(backend Backend, opts ...Option) *ResultCache {
	c := &ResultCache{
		defaultTTL:     DefaultTTL,
		opTimeout:      500 * time.Millisecond,
		computeTimeout: 10 * time.Second,
		logger:         zap.NewNop(),
	}
	c.faultLog.Interval = 30 * time.Second
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	if backend != nil {
		c.Attach(backend)
	}
	return c
}

// Attach installs the backend once its connection is established.
func (c *ResultCache) Attach(b Backend) {
	if b == nil {
		c.backend.Store(nil)
		return
	}
	c.backend.Store(&backendHolder{b: b})
}

// Ready reports whether a backend is attached.
func (c *ResultCache) Ready() bool {
	return c.current() != nil
}

func (c *ResultCache) current() Backend {
	if h := c.backend.Load(); h != nil {
		return h.b
	}
	return nil
}

// Lookup returns the stored value for key with the full three-way status.
func (c *ResultCache) Lookup(ctx context.Context, key string) Result {
	b := c.current()
	if b == nil {
		metrics.CacheOpsTotal.WithLabelValues("get", "not_ready").Inc()
		return Result{Status: StatusMiss}
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	value, err := b.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheOpsTotal.WithLabelValues("get", "hit").Inc()
		return Result{Status: StatusHit, Value: value}
	case errors.Is(err, ErrNotFound):
		metrics.CacheOpsTotal.WithLabelValues("get", "miss").Inc()
		return Result{Status: StatusMiss}
	default:
		c.fault("get", key, err)
		return Result{Status: StatusBackendUnavailable}
	}
}

// Get returns the value for key if present and unexpired.
func (c *ResultCache) Get(ctx context.Context, key string) ([]byte, bool) {
	res := c.Lookup(ctx, key)
	return res.Value, res.Hit()
}

// Set stores value under key for ttl, or DefaultTTL when ttl <= 0. An
// existing entry is overwritten and its TTL restarted.
func (c *ResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.write(ctx, "set", key, func(ctx context.Context, b Backend) error {
		return b.Set(ctx, key, value, ttl)
	})
}

// Delete removes key. A missing key is not an error.
func (c *ResultCache) Delete(ctx context.Context, key string) {
	c.write(ctx, "delete", key, func(ctx context.Context, b Backend) error {
		return b.Delete(ctx, key)
	})
}

// Clear drops every entry in the cache, not just the caller's own keys:
// all consumers sharing this backend lose their cached results. On Redis it
// walks the whole keyspace under the prefix. Meant for administrative use.
func (c *ResultCache) Clear(ctx context.Context) {
	c.logger.Warn("clearing result cache for all consumers")
	c.write(ctx, "clear", "", func(ctx context.Context, b Backend) error {
		return b.Flush(ctx)
	})
}

func (c *ResultCache) write(ctx context.Context, op, key string, do func(context.Context, Backend) error) {
	b := c.current()
	if b == nil {
		metrics.CacheOpsTotal.WithLabelValues(op, "not_ready").Inc()
		return
	}

	ctx, cancel := c.bound(ctx)
	defer cancel()

	if err := do(ctx, b); err != nil {
		c.fault(op, key, err)
		return
	}
	metrics.CacheOpsTotal.WithLabelValues(op, "ok").Inc()
}

func (c *ResultCache) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout > 0 {
		return context.WithTimeout(ctx, c.opTimeout)
	}
	return context.WithCancel(ctx)
}

// fault records a backend or codec failure. Every fault is counted; logging
// is throttled so an outage does not flood the logs.
func (c *ResultCache) fault(op, key string, err error) {
	metrics.CacheOpsTotal.WithLabelValues(op, "unavailable").Inc()
	c.faultLog.Do(func() {
		c.logger.Warn("cache backend unavailable, failing open",
			zap.String("cache_op", op),
			zap.String("cache_key", key),
			zap.Error(err),
		)
	})
}
