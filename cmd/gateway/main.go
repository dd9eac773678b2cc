package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"matatu-gateway/internal/cache"
	"matatu-gateway/internal/catalog"
	"matatu-gateway/internal/config"
	"matatu-gateway/internal/handlers"
	"matatu-gateway/internal/httpserver"
	"matatu-gateway/internal/metrics"
	"matatu-gateway/internal/ratelimit"
	"matatu-gateway/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: $CONFIG_FILE or ./config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run(configPath string) error {
	// ----- Config -----
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(logging.Options{Env: cfg.Log.Env, Level: cfg.Log.Level})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Server.Port),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.String("ratelimit_store", cfg.RateLimit.Store),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.Bool("trust_proxy_headers", cfg.RateLimit.TrustProxyHeaders),
		zap.String("fare_timezone", cfg.Fare.Timezone),
		zap.Int("routes", len(cfg.Routes)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.OpTimeout,
			WriteTimeout: cfg.Redis.OpTimeout,
		})
		defer func() { _ = redisClient.Close() }()
	}

	// ----- Result cache -----
	// The cache starts empty and attaches its backend once it answers, so a
	// Redis outage at boot only costs cache hits.
	resultCache := cache.New(nil,
		cache.WithLogger(logger),
		cache.WithDefaultTTL(cfg.Cache.DefaultTTL),
		cache.WithOpTimeout(cfg.Cache.OpTimeout),
		cache.WithComputeTimeout(cfg.Cache.ComputeTimeout),
		cache.WithFaultLogInterval(cfg.Cache.FaultLogInterval),
	)
	var backendClient redis.UniversalClient
	if redisClient != nil {
		backendClient = redisClient
	}
	backend := cache.NewBackend(cache.Config{Backend: cfg.Cache.Backend, Prefix: cfg.Cache.Prefix}, backendClient)
	cache.Connect(ctx, resultCache, backend, cache.ConnectOptions{
		PingTimeout: cfg.Redis.DialTimeout,
		Logger:      logger.Named("cache"),
	})
	cache.StartJanitor(ctx, backend, cfg.Cache.SweepInterval)

	// ----- Rate governor -----
	var store ratelimit.Store
	switch cfg.RateLimit.Store {
	case config.BackendRedis:
		store = ratelimit.NewRedisStore(redisClient, cfg.Cache.Prefix)
	default:
		mem := ratelimit.NewMemoryStore()
		mem.StartJanitor(ctx, cfg.RateLimit.SweepInterval)
		store = mem
	}
	governor := ratelimit.NewGovernor(store, cfg.RateLimit.ToPolicies(),
		ratelimit.WithLogger(logger),
		ratelimit.WithStoreTimeout(cfg.Redis.OpTimeout),
	)

	// ----- Route catalog -----
	routes, err := catalog.NewMemoryCatalog(cfg.Routes)
	if err != nil {
		return err
	}
	cachedRoutes := catalog.NewCachedCatalog(routes, resultCache, cfg.Cache.RouteTTL)

	fareLoc, err := cfg.Fare.Location()
	if err != nil {
		return err
	}

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.Deps{
		Logger:         logger,
		Governor:       governor,
		KeyFunc:        ratelimit.DefaultKeyFunc(cfg.RateLimit.KeyHeader),
		Fares:          handlers.NewFareHandler(cachedRoutes, resultCache, cfg.Cache.FareTTL, fareLoc),
		Routes:         handlers.NewRouteHandler(cachedRoutes),
		Locations:      handlers.NewLocationHandler(resultCache, cfg.Cache.LocationTTL),
		CacheAdmin:     handlers.NewCacheAdminHandler(resultCache),

		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,

		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
	})

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	logger.Info("starting gateway", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ----- Graceful shutdown -----
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

