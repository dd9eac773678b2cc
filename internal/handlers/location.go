package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"matatu-gateway/internal/cache"
	"matatu-gateway/pkg/logging"
)

// LocationHandler keeps each trip's last reported vehicle position in the
// result cache. Positions are ephemeral: once TTL passes without an update
// the trip reads as having no known position.
type LocationHandler struct {
	Cache *cache.ResultCache
	TTL   time.Duration
	Now   func() time.Time
}

func NewLocationHandler(c *cache.ResultCache, ttl time.Duration) *LocationHandler {
	return &LocationHandler{Cache: c, TTL: ttl, Now: time.Now}
}

type locationUpdate struct {
	Lat        float64    `json:"lat" validate:"gte=-90,lte=90"`
	Lng        float64    `json:"lng" validate:"gte=-180,lte=180"`
	Heading    *float64   `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	SpeedKPH   *float64   `json:"speed_kph,omitempty" validate:"omitempty,gte=0"`
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

// Position is what is stored and returned for a trip.
type Position struct {
	TripID     string    `json:"trip_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	SpeedKPH   *float64  `json:"speed_kph,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type positionResponse struct {
	Success  bool     `json:"success"`
	Position Position `json:"position"`
}

// Put handles PUT /v1/trips/{tripID}/location.
func (h *LocationHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tripID := strings.TrimSpace(chi.URLParam(r, "tripID"))
	if tripID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "trip id is required")
		return
	}

	var req locationUpdate
	if err := decodeBody(r, &req); err != nil {
		logging.L(ctx).Warn("invalid location update", zap.String("trip_id", tripID), zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	pos := Position{
		TripID:     tripID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		SpeedKPH:   req.SpeedKPH,
		RecordedAt: h.Now().UTC(),
	}
	if req.RecordedAt != nil {
		pos.RecordedAt = req.RecordedAt.UTC()
	}

	cache.SetJSON(ctx, h.Cache, cache.LocationKey(tripID), pos, h.TTL)

	writeJSON(w, http.StatusAccepted, positionResponse{Success: true, Position: pos})
}

// Get handles GET /v1/trips/{tripID}/location.
func (h *LocationHandler) Get(w http.ResponseWriter, r *http.Request) {
	tripID := strings.TrimSpace(chi.URLParam(r, "tripID"))

	pos, ok := cache.GetJSON[Position](r.Context(), h.Cache, cache.LocationKey(tripID))
	if !ok {
		writeError(w, http.StatusNotFound, "location_unavailable", "no recent position for this trip")
		return
	}

	writeJSON(w, http.StatusOK, positionResponse{Success: true, Position: pos})
}
