// Package routing resolves the road path an ambulance follows to the requester.
package routing

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

var (
	// ErrNoRoute is returned when the provider has no path between the points.
	ErrNoRoute = errors.New("routing: no route")
	// ErrInvalidRoute marks a resolved route that cannot be followed.
	ErrInvalidRoute = errors.New("routing: route needs at least two points")
)

// Provider returns an ordered polyline from one coordinate to another.
type Provider interface {
	Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, from, to models.Coord) ([]models.Coord, error)

func (f ProviderFunc) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	return f(ctx, from, to)
}

// Validate rejects routes that cannot be interpolated.
func Validate(route []models.Coord) error {
	if len(route) < 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidRoute, len(route))
	}
	return nil
}

// StraightLine divides the direct segment between the points into Steps legs.
type StraightLine struct {
	Steps int
}

func (s StraightLine) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	steps := s.Steps
	if steps <= 0 {
		steps = 300
	}
	out := make([]models.Coord, 0, steps+1)
	for i := 0; i <= steps; i++ {
		out = append(out, geo.Lerp(from, to, float64(i)/float64(steps)))
	}
	// pin the endpoints exactly
	out[0] = from
	out[steps] = to
	return out, nil
}

// Fallback tries Primary and falls back to Secondary on any error.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

func (f Fallback) Route(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	route, err := f.Primary.Route(ctx, from, to)
	if err == nil {
		if err = Validate(route); err == nil {
			return route, nil
		}
	}
	if ctx.Err() != nil {
		return nil, err
	}
	return f.Secondary.Route(ctx, from, to)
}
