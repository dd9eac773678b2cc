package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"matatu-gateway/internal/fare"
	"matatu-gateway/internal/ratelimit"
)

// Config holds all configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Fare      FareConfig      `mapstructure:"fare"`
	Routes    []fare.Route    `mapstructure:"routes"`
}

type ServerConfig struct {
	Port              string        `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
}

type LogConfig struct {
	Env   string `mapstructure:"env"`
	Level string `mapstructure:"level"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend          string        `mapstructure:"backend"` // "memory" or "redis"
	Prefix           string        `mapstructure:"prefix"`
	DefaultTTL       time.Duration `mapstructure:"default_ttl"`
	FareTTL          time.Duration `mapstructure:"fare_ttl"`
	RouteTTL         time.Duration `mapstructure:"route_ttl"`
	LocationTTL      time.Duration `mapstructure:"location_ttl"`
	OpTimeout        time.Duration `mapstructure:"op_timeout"`
	ComputeTimeout   time.Duration `mapstructure:"compute_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	FaultLogInterval time.Duration `mapstructure:"fault_log_interval"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// OpTimeout bounds every read and write on the connection.
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

type RateLimitConfig struct {
	Store     string `mapstructure:"store"` // "memory" or "redis"
	KeyHeader string `mapstructure:"key_header"`
	// TrustProxyHeaders takes the client IP from X-Forwarded-For, X-Real-IP
	// and True-Client-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool                    `mapstructure:"trust_proxy_headers"`
	SweepInterval     time.Duration           `mapstructure:"sweep_interval"`
	Policies          map[string]PolicyConfig `mapstructure:"policies"`
}

type PolicyConfig struct {
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
	Message     string        `mapstructure:"message"`
}

type FareConfig struct {
	// Timezone whose wall clock decides peak hours.
	Timezone string `mapstructure:"timezone"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Load reads configuration from path, or from CONFIG_FILE, or from
// config.yaml in . or ./config. A missing default file is not an error.
// Environment variables prefixed with MATATU_ override file values, with
// dots and dashes in keys replaced by underscores (MATATU_REDIS_ADDR).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MATATU")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 64*1024)

	v.SetDefault("log.env", "production")
	v.SetDefault("log.level", "info")

	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.prefix", "matatu")
	v.SetDefault("cache.default_ttl", 300*time.Second)
	v.SetDefault("cache.fare_ttl", 300*time.Second)
	v.SetDefault("cache.route_ttl", 10*time.Minute)
	v.SetDefault("cache.location_ttl", 60*time.Second)
	v.SetDefault("cache.op_timeout", 500*time.Millisecond)
	v.SetDefault("cache.compute_timeout", 10*time.Second)
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.fault_log_interval", 30*time.Second)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", 2*time.Second)
	v.SetDefault("redis.op_timeout", 500*time.Millisecond)

	v.SetDefault("ratelimit.store", BackendMemory)
	v.SetDefault("ratelimit.key_header", "")
	v.SetDefault("ratelimit.trust_proxy_headers", false)
	v.SetDefault("ratelimit.sweep_interval", time.Minute)
	for class, p := range ratelimit.DefaultPolicies() {
		prefix := "ratelimit.policies." + string(class) + "."
		v.SetDefault(prefix+"window", p.Window)
		v.SetDefault(prefix+"max_requests", p.MaxRequests)
		v.SetDefault(prefix+"message", p.Message)
	}

	v.SetDefault("fare.timezone", "Africa/Nairobi")
}

// Validate checks values that have no safe fallback.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if c.Cache.Backend != BackendMemory && c.Cache.Backend != BackendRedis {
		return fmt.Errorf("cache.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Cache.Backend)
	}
	if c.RateLimit.Store != BackendMemory && c.RateLimit.Store != BackendRedis {
		return fmt.Errorf("ratelimit.store must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Store)
	}
	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when a redis backend is selected")
	}
	if err := c.RateLimit.ToPolicies().Validate(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if _, err := c.Fare.Location(); err != nil {
		return err
	}
	return nil
}

// UsesRedis reports whether any component needs the Redis client.
func (c *Config) UsesRedis() bool {
	return c.Cache.Backend == BackendRedis || c.RateLimit.Store == BackendRedis
}

// ToPolicies converts the configured policies into governor policies.
func (c RateLimitConfig) ToPolicies() ratelimit.Policies {
	out := make(ratelimit.Policies, len(c.Policies))
	for name, p := range c.Policies {
		out[ratelimit.PolicyClass(name)] = ratelimit.Policy{
			Window:      p.Window,
			MaxRequests: p.MaxRequests,
			Message:     p.Message,
		}
	}
	return out
}

// Location loads the fare timezone.
func (c FareConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("fare.timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
