package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// KeyFunc extracts the rate-limit identity from a request.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc uses keyHeader when set and present, else the host part of
// RemoteAddr. Forwarded headers are never read here; RemoteAddr only carries
// them when the router was configured to trust a proxy.
func DefaultKeyFunc(keyHeader string) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return "key:" + v
			}
		}

		addr := strings.TrimSpace(r.RemoteAddr)
		if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
			return "ip:" + host
		}
		if addr != "" {
			return "ip:" + addr
		}
		return "ip:unknown"
	}
}

type MiddlewareOptions struct {
	KeyFn KeyFunc
	// KeyHeader feeds DefaultKeyFunc when KeyFn is nil.
	KeyHeader string
}

type rejection struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after"`
}

// Middleware admits each request through gov under class. Rejected requests
// get 429 with Retry-After and the policy message; every decision with a
// known window sets the X-RateLimit-* headers.
func Middleware(gov *Governor, class PolicyClass, opts MiddlewareOptions) func(http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := gov.Admit(r.Context(), opts.KeyFn(r), class)

			if !dec.FailOpen {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(dec.ResetAt.Unix(), 10))
			}

			if dec.Admitted {
				next.ServeHTTP(w, r)
				return
			}

			retry := int64(dec.RetryAfter(gov.now()) / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(rejection{
				Success:    false,
				Error:      "rate_limited",
				Message:    dec.Message,
				RetryAfter: retry,
			})
		})
	}
}
