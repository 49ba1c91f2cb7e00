// Package eta gives quick straight-line arrival estimates for ambulances
// that are not yet following a resolved route.
package eta

import (
	"math"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

// DefaultSpeedMps is an urban ambulance speed, roughly 29 km/h.
const DefaultSpeedMps = 8.0

type Estimate struct {
	DistanceMeters float64 `json:"distance_m"`
	Minutes        int     `json:"eta_minutes"`
}

// Straight estimates the trip from one point to another at speedMps along
// the great-circle distance. Minutes are rounded up and never below 1 for
// distinct points.
func Straight(from, to models.Coord, speedMps float64) Estimate {
	if speedMps <= 0 {
		speedMps = DefaultSpeedMps
	}
	d := geo.Haversine(from, to)
	if d == 0 {
		return Estimate{}
	}
	return Estimate{DistanceMeters: d, Minutes: int(math.Max(1, math.Ceil(d/speedMps/60)))}
}
