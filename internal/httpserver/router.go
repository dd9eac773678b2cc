package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"matatu-gateway/internal/handlers"
	"matatu-gateway/internal/metrics"
	"matatu-gateway/internal/middleware"
	"matatu-gateway/internal/ratelimit"
)

// Deps are the handlers and services the router mounts.
type Deps struct {
	Logger     *zap.Logger
	Governor   *ratelimit.Governor
	KeyFunc    ratelimit.KeyFunc
	Fares      *handlers.FareHandler
	Routes     *handlers.RouteHandler
	Locations  *handlers.LocationHandler
	CacheAdmin *handlers.CacheAdminHandler
	// Auth is the externally provided authentication handler, mounted under
	// /v1/auth. Nil answers 501.
	Auth http.Handler

	// TrustProxyHeaders rewrites RemoteAddr from forwarded headers before the
	// limiter keys on it. Off, clients are identified by their socket address.
	TrustProxyHeaders bool

	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func SetupRouter(r *chi.Mux, d Deps) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	if d.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}

	r.Use(middleware.LoggingContext(d.Logger))
	r.Use(middleware.Recoverer())               // panic recovery
	r.Use(middleware.Timeout(d.RequestTimeout)) // request timeout
	r.Use(middleware.MaxBodySize(d.MaxBodyBytes))

	limit := func(class ratelimit.PolicyClass) func(http.Handler) http.Handler {
		return ratelimit.Middleware(d.Governor, class, ratelimit.MiddlewareOptions{KeyFn: d.KeyFunc})
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limit(ratelimit.ClassGeneral))
			r.Post("/fares/quote", d.Fares.Quote)
			r.Get("/routes/{routeID}", d.Routes.Get)
			r.Get("/trips/{tripID}/location", d.Locations.Get)
		})

		r.With(limit(ratelimit.ClassLocationUpdate)).
			Put("/trips/{tripID}/location", d.Locations.Put)

		auth := d.Auth
		if auth == nil {
			auth = http.HandlerFunc(notImplemented)
		}
		r.With(limit(ratelimit.ClassAuth)).Mount("/auth", auth)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(limit(ratelimit.ClassGeneral))
		r.Delete("/cache", d.CacheAdmin.Clear)
		r.Delete("/cache/{key}", d.CacheAdmin.Delete)
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}

func notImplemented(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	_, _ = w.Write([]byte(`{"success":false,"error":"not_implemented","message":"authentication is provided by an external service"}`))
}
