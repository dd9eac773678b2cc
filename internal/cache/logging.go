package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"matatu-gateway/internal/metrics"
	"matatu-gateway/pkg/logging"
)

// LoggingBackend wraps a Backend with per-call debug logging and latency metrics.
type LoggingBackend struct {
	inner Backend
	name  string
}

// NewLoggingBackend returns a backend that logs and records metrics under name
// ("memory", "redis").
func NewLoggingBackend(inner Backend, name string) Backend {
	return &LoggingBackend{inner: inner, name: name}
}

func (c *LoggingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := c.inner.Get(ctx, key)

	result := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		result = "miss"
	case err != nil:
		result = "error"
	}

	c.record(ctx, "get", key, start, err, zap.String("cache_result", result))
	return value, err
}

func (c *LoggingBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	c.record(ctx, "set", key, start, err,
		zap.Duration("ttl", ttl),
		zap.Int("value_bytes", len(value)),
	)
	return err
}

func (c *LoggingBackend) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.inner.Delete(ctx, key)
	c.record(ctx, "delete", key, start, err)
	return err
}

func (c *LoggingBackend) Flush(ctx context.Context) error {
	start := time.Now()
	err := c.inner.Flush(ctx)
	c.record(ctx, "flush", "", start, err)
	return err
}

func (c *LoggingBackend) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

// Unwrap returns the decorated backend.
func (c *LoggingBackend) Unwrap() Backend { return c.inner }

func (c *LoggingBackend) record(ctx context.Context, op, key string, start time.Time, err error, extra ...zap.Field) {
	elapsed := time.Since(start)
	metrics.CacheBackendLatencySeconds.WithLabelValues(c.name, op).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("cache_backend", c.name),
		zap.String("cache_op", op),
		zap.Float64("latency_ms", float64(elapsed.Microseconds())/1000.0),
	}
	if key != "" {
		fields = append(fields, zap.String("cache_key", key))
	}
	if parts, ok := parseFareKey(key); ok {
		fields = append(fields,
			zap.String("route_id", parts.RouteID),
			zap.Int("start_stage", parts.StartStage),
			zap.Int("end_stage", parts.EndStage),
			zap.String("peak_bucket", parts.PeakBucket),
		)
	}
	fields = append(fields, extra...)

	logger := logging.L(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logger.Warn("cache_backend_call", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("cache_backend_call", fields...)
}
