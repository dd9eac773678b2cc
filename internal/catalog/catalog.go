// Package catalog looks up route fare tables.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"matatu-gateway/internal/cache"
	"matatu-gateway/internal/fare"
)

var ErrRouteNotFound = errors.New("route not found")

// Catalog returns the fare table of a route.
type Catalog interface {
	Route(ctx context.Context, id string) (fare.Route, error)
}

// MemoryCatalog serves routes loaded at startup.
type MemoryCatalog struct {
	mu     sync.RWMutex
	routes map[string]fare.Route
}

// NewMemoryCatalog indexes routes by ID. Fare tables are not validated here:
// a broken table is reported when it is priced.
func NewMemoryCatalog(routes []fare.Route) (*MemoryCatalog, error) {
	c := &MemoryCatalog{routes: make(map[string]fare.Route, len(routes))}
	for i, r := range routes {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			return nil, fmt.Errorf("route %d: missing id", i)
		}
		if _, dup := c.routes[id]; dup {
			return nil, fmt.Errorf("route %q: duplicate id", id)
		}
		r.ID = id
		c.routes[id] = cloneRoute(r)
	}
	return c, nil
}

func (c *MemoryCatalog) Route(_ context.Context, id string) (fare.Route, error) {
	c.mu.RLock()
	r, ok := c.routes[strings.TrimSpace(id)]
	c.mu.RUnlock()
	if !ok {
		return fare.Route{}, fmt.Errorf("%w: %q", ErrRouteNotFound, id)
	}
	return cloneRoute(r), nil
}

// Put adds or replaces a route.
func (c *MemoryCatalog) Put(r fare.Route) {
	c.mu.Lock()
	c.routes[r.ID] = cloneRoute(r)
	c.mu.Unlock()
}

// IDs returns the known route IDs in no particular order.
func (c *MemoryCatalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.routes))
	for id := range c.routes {
		ids = append(ids, id)
	}
	return ids
}

func cloneRoute(r fare.Route) fare.Route {
	if r.StageIncrements != nil {
		r.StageIncrements = append([]fare.StageIncrement(nil), r.StageIncrements...)
	}
	return r
}

// DefaultRouteTTL is how long CachedCatalog keeps a route.
const DefaultRouteTTL = 10 * time.Minute

// CachedCatalog reads routes through the result cache under cache.RouteKey.
// Lookup failures, including ErrRouteNotFound, are never cached.
type CachedCatalog struct {
	inner Catalog
	cache *cache.ResultCache
	ttl   time.Duration
}

func NewCachedCatalog(inner Catalog, c *cache.ResultCache, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &CachedCatalog{inner: inner, cache: c, ttl: ttl}
}

func (c *CachedCatalog) Route(ctx context.Context, id string) (fare.Route, error) {
	r, _, err := c.Lookup(ctx, id)
	return r, err
}

// Lookup is Route plus whether the answer came from the cache.
func (c *CachedCatalog) Lookup(ctx context.Context, id string) (fare.Route, bool, error) {
	return cache.GetOrCompute(ctx, c.cache, cache.RouteKey(id), c.ttl, func(ctx context.Context) (fare.Route, error) {
		return c.inner.Route(ctx, id)
	})
}

// Invalidate drops the cached copy of a route.
func (c *CachedCatalog) Invalidate(ctx context.Context, id string) {
	c.cache.Delete(ctx, cache.RouteKey(id))
}
