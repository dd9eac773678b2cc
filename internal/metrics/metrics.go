package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheOpsTotal counts result cache operations by outcome.
	// result is one of hit, miss, unavailable (get) or ok, unavailable, not_ready (writes).
	CacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_ops_total",
			Help: "Result cache operations by operation and outcome.",
		},
		[]string{"op", "result"},
	)

	// CacheBackendLatencySeconds: latency of calls to the cache backing store.
	CacheBackendLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "result_cache_backend_latency_seconds",
			Help:    "Latency of cache backend calls in seconds.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"backend", "op"},
	)

	// RateLimitDecisionsTotal counts governor decisions per policy class.
	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_governor_decisions_total",
			Help: "Rate governor admission decisions by policy class.",
		},
		[]string{"policy", "decision"},
	)

	// FareQuotesTotal counts served fare quotes.
	FareQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fare_quotes_total",
			Help: "Fare quotes served, by fare source, peak status and cache hit.",
		},
		[]string{"source", "peak", "cached"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheOpsTotal,
		CacheBackendLatencySeconds,
		RateLimitDecisionsTotal,
		FareQuotesTotal,
		GatewayLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request, labelled by the
// chi route pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
