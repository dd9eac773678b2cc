package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"matatu-gateway/pkg/logging"
)

// Recoverer turns a handler panic into a logged JSON 500.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// let net/http abort the connection as it normally would
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.L(r.Context()).Error("panic recovered",
					zap.Any("error", rec),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal_server_error", "")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
