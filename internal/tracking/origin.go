package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ambulance-dispatch/internal/models"
)

// ErrOriginUnavailable is reported when no requester position was supplied.
var ErrOriginUnavailable = errors.New("tracking: origin unavailable")

// OriginSource acquires the requester's position.
type OriginSource interface {
	Locate(ctx context.Context) (models.Coord, error)
}

// Fixed is an already known position.
type Fixed models.Coord

func (f Fixed) Locate(context.Context) (models.Coord, error) { return models.Coord(f), nil }

// Unavailable always fails with Err, or ErrOriginUnavailable when nil.
type Unavailable struct{ Err error }

func (u Unavailable) Locate(context.Context) (models.Coord, error) {
	if u.Err != nil {
		return models.Coord{}, u.Err
	}
	return models.Coord{}, ErrOriginUnavailable
}

func locate(ctx context.Context, src OriginSource) (models.Coord, error) {
	if src == nil {
		return models.Coord{}, ErrOriginUnavailable
	}
	c, err := src.Locate(ctx)
	if err != nil {
		return models.Coord{}, err
	}
	if !c.Valid() {
		return models.Coord{}, fmt.Errorf("%w: invalid coordinate %s", ErrOriginUnavailable, c)
	}
	return c, nil
}
