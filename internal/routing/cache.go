package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Cache stores resolved routes keyed by their endpoints.
type Cache interface {
	Get(ctx context.Context, from, to models.Coord) ([]models.Coord, bool)
	Set(ctx context.Context, from, to models.Coord, route []models.Coord)
}

// MemoryCache is a small in-memory TTL cache.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	route []models.Coord
	ts    time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{store: make(map[string]cacheEntry), ttl: ttl, now: time.Now}
}

func keyFor(a, b models.Coord) string {
	return a.String() + "->" + b.String()
}

// Get returns a copy of the cached route if present and not expired.
func (c *MemoryCache) Get(_ context.Context, a, b models.Coord) ([]models.Coord, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return nil, false
	}
	return append([]models.Coord(nil), e.route...), true
}

func (c *MemoryCache) Set(_ context.Context, a, b models.Coord, route []models.Coord) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{route: append([]models.Coord(nil), route...), ts: c.now()}
	c.mu.Unlock()
}

// Cached consults Cache before asking Provider and stores valid results.
type Cached struct {
	Provider Provider
	Cache    Cache
}

func (c Cached) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	if route, ok := c.Cache.Get(ctx, from, to); ok && Validate(route) == nil {
		return route, nil
	}
	route, err := c.Provider.Route(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if err := Validate(route); err != nil {
		return nil, fmt.Errorf("cached provider: %w", err)
	}
	c.Cache.Set(ctx, from, to, route)
	return route, nil
}
