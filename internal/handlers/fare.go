package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matatu-gateway/internal/cache"
	"matatu-gateway/internal/catalog"
	"matatu-gateway/internal/fare"
	"matatu-gateway/internal/metrics"
	"matatu-gateway/pkg/logging"
)

// FareHandler serves POST /v1/fares/quote.
type FareHandler struct {
	Catalog  catalog.Catalog
	Cache    *cache.ResultCache
	TTL      time.Duration
	Location *time.Location
	Currency string
	Now      func() time.Time
}

func NewFareHandler(cat catalog.Catalog, c *cache.ResultCache, ttl time.Duration, loc *time.Location) *FareHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &FareHandler{
		Catalog:  cat,
		Cache:    c,
		TTL:      ttl,
		Location: loc,
		Currency: "KES",
		Now:      time.Now,
	}
}

type quoteRequest struct {
	// RouteID is part of the ':'-separated fare cache key.
	RouteID    string `json:"route_id" validate:"required,excludes=:"`
	StartStage int    `json:"start_stage" validate:"gte=0"`
	EndStage   int    `json:"end_stage" validate:"gtefield=StartStage"`
	// At prices a future or past trip. Defaults to now.
	At *time.Time `json:"at,omitempty"`
}

func (q *quoteRequest) normalize() {
	q.RouteID = strings.TrimSpace(q.RouteID)
}

type quoteResponse struct {
	Success    bool        `json:"success"`
	QuoteID    string      `json:"quote_id"`
	RouteID    string      `json:"route_id"`
	StartStage int         `json:"start_stage"`
	EndStage   int         `json:"end_stage"`
	Amount     int64       `json:"amount"`
	Currency   string      `json:"currency"`
	Peak       bool        `json:"peak"`
	Multiplier float64     `json:"multiplier"`
	Source     fare.Source `json:"source"`
	PricedAt   time.Time   `json:"priced_at"`
	Cached     bool        `json:"cached"`
}

// Quote prices a trip. Quotes are cached per route, stage range and peak
// bucket; the cache only ever saves a catalog lookup and a multiplication.
func (h *FareHandler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		logger.Warn("invalid quote request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	at := h.Now()
	if req.At != nil {
		at = *req.At
	}
	at = at.In(h.Location)

	key := cache.FareKey{
		RouteID:    req.RouteID,
		StartStage: req.StartStage,
		EndStage:   req.EndStage,
		PeakBucket: fare.PeakBucket(at),
	}

	q, hit, err := cache.GetOrCompute(ctx, h.Cache, key.String(), h.TTL, func(ctx context.Context) (fare.Quote, error) {
		route, err := h.Catalog.Route(ctx, req.RouteID)
		if err != nil {
			return fare.Quote{}, err
		}
		return fare.Price(route, req.StartStage, req.EndStage, at)
	})
	switch {
	case errors.Is(err, catalog.ErrRouteNotFound):
		writeError(w, http.StatusNotFound, "route_not_found", "no route with id "+strconv.Quote(req.RouteID))
		return
	case errors.Is(err, fare.ErrInvalidRoute):
		// the catalog holds a table we cannot price; never guess a fare
		logger.Error("route fare table is invalid", zap.String("route_id", req.RouteID), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, "invalid_fare_table", "route "+strconv.Quote(req.RouteID)+" cannot be priced")
		return
	case err != nil:
		logger.Error("fare quote failed", zap.String("route_id", req.RouteID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	metrics.FareQuotesTotal.
		WithLabelValues(string(q.Source), strconv.FormatBool(q.Peak), strconv.FormatBool(hit)).
		Inc()

	logger.Info("fare quoted",
		zap.String("route_id", q.RouteID),
		zap.Int("start_stage", q.StartStage),
		zap.Int("end_stage", q.EndStage),
		zap.Int64("amount", q.Amount),
		zap.Bool("peak", q.Peak),
		zap.Bool("cache_hit", hit),
	)

	writeJSON(w, http.StatusOK, quoteResponse{
		Success:    true,
		QuoteID:    uuid.NewString(),
		RouteID:    q.RouteID,
		StartStage: q.StartStage,
		EndStage:   q.EndStage,
		Amount:     q.Amount,
		Currency:   h.Currency,
		Peak:       q.Peak,
		Multiplier: q.Multiplier,
		Source:     q.Source,
		PricedAt:   at,
		Cached:     hit,
	})
}
