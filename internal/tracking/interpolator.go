package tracking

import (
	"fmt"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/routing"
)

// Interpolator steps a vehicle along route waypoints over a fixed trip
// duration. Positions are only ever waypoints; there is no sub-segment
// interpolation.
type Interpolator struct {
	route []models.Coord
	trip  time.Duration
	step  int
}

// Progress is the outcome of one movement tick.
type Progress struct {
	Step       int
	Position   models.Coord
	ETAMinutes int // zero once arrived
	Arrived    bool
}

func NewInterpolator(route []models.Coord, trip time.Duration) (*Interpolator, error) {
	if err := routing.Validate(route); err != nil {
		return nil, err
	}
	if trip <= 0 {
		return nil, fmt.Errorf("tracking: trip duration must be positive, got %s", trip)
	}
	return &Interpolator{route: append([]models.Coord(nil), route...), trip: trip}, nil
}

func (i *Interpolator) TotalSteps() int { return len(i.route) - 1 }

func (i *Interpolator) Step() int { return i.step }

func (i *Interpolator) Done() bool { return i.step >= i.TotalSteps() }

// Interval is the wall-clock time between ticks.
func (i *Interpolator) Interval() time.Duration {
	return i.trip / time.Duration(i.TotalSteps())
}

func (i *Interpolator) Position() models.Coord { return i.route[i.step] }

// Traveled is the covered prefix, ending at the current position.
func (i *Interpolator) Traveled() []models.Coord {
	return append([]models.Coord(nil), i.route[:i.step+1]...)
}

// Remaining is the suffix still ahead, starting at the current position.
func (i *Interpolator) Remaining() []models.Coord {
	return append([]models.Coord(nil), i.route[i.step:]...)
}

// ETAMinutes is the remaining trip time rounded up to whole minutes, never
// below 1 before arrival and 0 after it.
func (i *Interpolator) ETAMinutes() int {
	if i.Done() {
		return 0
	}
	total := time.Duration(i.TotalSteps())
	remaining := i.trip * (total - time.Duration(i.step)) / total
	m := int((remaining + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}

// Advance moves one waypoint forward. Once elapsed reaches the trip
// duration the vehicle snaps to the final waypoint.
func (i *Interpolator) Advance(elapsed time.Duration) Progress {
	if !i.Done() {
		i.step++
	}
	if elapsed >= i.trip {
		i.step = i.TotalSteps()
	}
	return Progress{
		Step:       i.step,
		Position:   i.Position(),
		ETAMinutes: i.ETAMinutes(),
		Arrived:    i.Done(),
	}
}
