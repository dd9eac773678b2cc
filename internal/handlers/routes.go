package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matatu-gateway/internal/catalog"
	"matatu-gateway/internal/fare"
	"matatu-gateway/pkg/logging"
)

// RouteLookup is the catalog view RouteHandler needs; the bool reports a
// cache hit.
type RouteLookup interface {
	Lookup(ctx context.Context, id string) (fare.Route, bool, error)
}

// RouteHandler serves GET /v1/routes/{routeID}.
type RouteHandler struct {
	Routes RouteLookup
}

func NewRouteHandler(routes RouteLookup) *RouteHandler {
	return &RouteHandler{Routes: routes}
}

type routeResponse struct {
	Success bool       `json:"success"`
	Route   fare.Route `json:"route"`
	Cached  bool       `json:"cached"`
}

func (h *RouteHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "routeID")

	route, hit, err := h.Routes.Lookup(r.Context(), id)
	if errors.Is(err, catalog.ErrRouteNotFound) {
		writeError(w, http.StatusNotFound, "route_not_found", "no route with id "+strconv.Quote(id))
		return
	}
	if err != nil {
		logging.L(r.Context()).Error("route lookup failed", zap.String("route_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	writeJSON(w, http.StatusOK, routeResponse{Success: true, Route: route, Cached: hit})
}
