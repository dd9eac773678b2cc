package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matatu-gateway/internal/cache"
	"matatu-gateway/pkg/logging"
)

// ConfirmClearHeader must be set to "all" for DELETE /admin/cache.
const ConfirmClearHeader = "X-Confirm-Clear"

// CacheAdminHandler exposes administrative cache invalidation.
type CacheAdminHandler struct {
	Cache *cache.ResultCache
}

func NewCacheAdminHandler(c *cache.ResultCache) *CacheAdminHandler {
	return &CacheAdminHandler{Cache: c}
}

type adminResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key,omitempty"`
	Warning string `json:"warning,omitempty"`
}

// Delete handles DELETE /admin/cache/{key}.
func (h *CacheAdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "key is required")
		return
	}

	h.Cache.Delete(r.Context(), key)
	logging.L(r.Context()).Info("cache key deleted", zap.String("key", key))

	writeJSON(w, http.StatusOK, adminResponse{Success: true, Key: key})
}

// Clear handles DELETE /admin/cache. It empties the cache for every
// consumer, so the caller has to confirm it explicitly.
func (h *CacheAdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(ConfirmClearHeader) != "all" {
		writeError(w, http.StatusBadRequest, "confirmation_required",
			"clearing drops cached results for all consumers; set "+ConfirmClearHeader+": all to proceed")
		return
	}

	h.Cache.Clear(r.Context())
	logging.L(r.Context()).Warn("cache cleared by admin request")

	writeJSON(w, http.StatusOK, adminResponse{
		Success: true,
		Warning: "all cached fares, routes and positions were dropped",
	})
}
