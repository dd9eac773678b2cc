package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Options controls how NewLogger builds the base logger.
type Options struct {
	// Env selects the encoder: "dev"/"development" gives a colored console
	// logger, anything else production JSON.
	Env string
	// Level is a zap level name ("debug", "info", ...). Empty keeps the
	// config default.
	Level string
}

// NewLogger builds a zap logger from opts.
func NewLogger(opts Options) (*zap.Logger, error) {
	var config zap.Config

	switch strings.ToLower(opts.Env) {
	case "dev", "development":
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		config = zap.NewProductionConfig()
		config.DisableCaller = false
	}

	if opts.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
		config.Level = zap.NewAtomicLevelAt(level)
	}

	return config.Build()
}

// DefaultLogger is the process fallback logger, configured from ENV and
// LOG_LEVEL. Request handling should prefer the logger carried in the context.
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		l, err := NewLogger(Options{
			Env:   os.Getenv("ENV"),
			Level: os.Getenv("LOG_LEVEL"),
		})
		if err != nil {
			_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
			l = zap.NewNop()
		}
		defaultLogger = l
	})
	return defaultLogger
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or DefaultLogger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(fields...))
}
