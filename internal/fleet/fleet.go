// Package fleet produces the candidate ambulances offered to a dispatch
// request. Positions are synthetic and placed around the requester.
package fleet

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Generator creates the candidate vehicles for a request at origin.
type Generator interface {
	Generate(origin models.Coord, n int) []models.Vehicle
}

var (
	driverNames  = []string{"Dr. Rajesh Kumar", "Dr. Priya Singh", "Dr. Amit Patel", "Dr. Neha Sharma", "Dr. Sanjay Gupta"}
	vehicleTypes = []string{"Life Support Ambulance", "Basic Ambulance", "Cardiac Ambulance", "Neonatal Ambulance", "Mobile ICU"}
)

const (
	// Offsets are per axis, in degrees (roughly 1-3 km).
	minOffsetDeg = 0.01
	maxOffsetDeg = 0.03
)

// RandomGenerator places vehicles at random offsets from the origin.
type RandomGenerator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewRandomGenerator(seed int64) *RandomGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomGenerator{rnd: rand.New(rand.NewSource(seed))}
}

func (g *RandomGenerator) Generate(origin models.Coord, n int) []models.Vehicle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.Vehicle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.Vehicle{
			ID:            fmt.Sprintf("AMB-%d", 1000+g.rnd.Intn(9000)),
			DriverName:    driverNames[i%len(driverNames)],
			ContactNumber: fmt.Sprintf("+91 98765 %d", 10000+g.rnd.Intn(90000)),
			VehicleType:   vehicleTypes[i%len(vehicleTypes)],
			LicensePlate:  fmt.Sprintf("DL %d %c%c %d", 10+g.rnd.Intn(90), 'A'+rune(g.rnd.Intn(26)), 'A'+rune(g.rnd.Intn(26)), 1000+g.rnd.Intn(9000)),
			Position: models.Coord{
				Lat: origin.Lat + g.offset(),
				Lon: origin.Lon + g.offset(),
			},
		})
	}
	return out
}

func (g *RandomGenerator) offset() float64 {
	d := minOffsetDeg + g.rnd.Float64()*(maxOffsetDeg-minOffsetDeg)
	if g.rnd.Intn(2) == 0 {
		return -d
	}
	return d
}

// Static returns the same vehicles, shifted onto the origin, for every request.
type Static struct {
	Vehicles []models.Vehicle
	// Relative treats Vehicle.Position as an offset from the origin.
	Relative bool
}

func (s Static) Generate(origin models.Coord, n int) []models.Vehicle {
	if n > len(s.Vehicles) || n <= 0 {
		n = len(s.Vehicles)
	}
	out := make([]models.Vehicle, n)
	copy(out, s.Vehicles[:n])
	if s.Relative {
		for i := range out {
			out[i].Position.Lat += origin.Lat
			out[i].Position.Lon += origin.Lon
		}
	}
	return out
}
