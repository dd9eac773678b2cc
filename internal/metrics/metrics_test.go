package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRoutePattern(t *testing.T) {
	GatewayLatencySeconds.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/routes/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"46", "111", "23"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(GatewayLatencySeconds), "path parameters share one series")
}

func TestMiddleware_DefaultsToOK(t *testing.T) {
	GatewayLatencySeconds.Reset()

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/anything", nil))

	_, err := GatewayLatencySeconds.GetMetricWithLabelValues("unmatched", http.MethodGet, "200")
	assert.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(GatewayLatencySeconds), "the recorded series carries the default labels")
}

func TestCounters(t *testing.T) {
	RateLimitDecisionsTotal.Reset()

	RateLimitDecisionsTotal.WithLabelValues("auth", "admitted").Inc()
	RateLimitDecisionsTotal.WithLabelValues("auth", "admitted").Inc()
	RateLimitDecisionsTotal.WithLabelValues("auth", "rejected").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("auth", "admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RateLimitDecisionsTotal.WithLabelValues("auth", "rejected")))
}
