package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
)

const earthRadiusMeters = 6371000.0

// Geo is the fleet index consulted by the HTTP layer for nearby ambulances.
type Geo interface {
	Nearby(ctx context.Context, at models.Coord, limit int) []models.Vehicle
	Upsert(ctx context.Context, v models.Vehicle)
	Remove(ctx context.Context, ids ...string)
}

type Index struct {
	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
}

func NewIndex() *Index {
	return &Index{vehicles: make(map[string]models.Vehicle)}
}

func (g *Index) Upsert(_ context.Context, v models.Vehicle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.vehicles[v.ID] = v
}

func (g *Index) Remove(_ context.Context, ids ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range ids {
		delete(g.vehicles, id)
	}
}

// naive scan; fleets per deployment are small
func (g *Index) Nearby(_ context.Context, at models.Coord, limit int) []models.Vehicle {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		v    models.Vehicle
		dist float64
	}
	arr := make([]pair, 0, len(g.vehicles))
	for _, v := range g.vehicles {
		arr = append(arr, pair{v, Haversine(at, v.Position)})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) || n <= 0 {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist || (arr[j].dist == arr[minIdx].dist && arr[j].v.ID < arr[minIdx].v.ID) {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Vehicle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].v)
	}
	return out
}

// Haversine distance in meters
func Haversine(a, b models.Coord) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Bearing from a to b in degrees (0-360).
func Bearing(a, b models.Coord) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	deltaLambda := (b.Lon - a.Lon) * math.Pi / 180

	x := math.Sin(deltaLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(deltaLambda)

	bearing := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(bearing+360, 360)
}

// Lerp linearly interpolates between a and b.
func Lerp(a, b models.Coord, fraction float64) models.Coord {
	return models.Coord{
		Lat: a.Lat + (b.Lat-a.Lat)*fraction,
		Lon: a.Lon + (b.Lon-a.Lon)*fraction,
	}
}

// PathLength is the haversine length of a polyline in meters.
func PathLength(path []models.Coord) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Haversine(path[i-1], path[i])
	}
	return total
}
