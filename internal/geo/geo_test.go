package geo

import (
	"context"
	"math"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(models.Coord{}, models.Coord{})
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0})
	if math.Abs(d-111195) > 100 {
		t.Fatalf("expected ~111.2km, got %f", d)
	}
}

func TestBearingEast(t *testing.T) {
	b := Bearing(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 1})
	if math.Abs(b-90) > 1e-9 {
		t.Fatalf("expected 90, got %f", b)
	}
}

func TestIndexNearbyOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	idx.Upsert(ctx, models.Vehicle{ID: "far", Position: models.Coord{Lat: 0.03, Lon: 0}})
	idx.Upsert(ctx, models.Vehicle{ID: "near", Position: models.Coord{Lat: 0.01, Lon: 0}})
	idx.Upsert(ctx, models.Vehicle{ID: "mid", Position: models.Coord{Lat: 0.02, Lon: 0}})

	got := idx.Nearby(ctx, models.Coord{}, 2)
	if len(got) != 2 || got[0].ID != "near" || got[1].ID != "mid" {
		t.Fatalf("unexpected nearby result %+v", got)
	}

	idx.Remove(ctx, "near")
	got = idx.Nearby(ctx, models.Coord{}, 0)
	if len(got) != 2 || got[0].ID != "mid" {
		t.Fatalf("unexpected result after remove %+v", got)
	}
}

func TestRedisGeoRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ctx := context.Background()
	g := NewRedisGeo(rc, "ambulances_geo", 10000, nil)
	g.Upsert(ctx, models.Vehicle{ID: "AMB-1001", DriverName: "Dr. Priya Singh", VehicleType: "Basic Ambulance", Position: models.Coord{Lat: 28.62, Lon: 77.21}})
	g.Upsert(ctx, models.Vehicle{ID: "AMB-1002", DriverName: "Dr. Amit Patel", Position: models.Coord{Lat: 28.64, Lon: 77.21}})

	got := g.Nearby(ctx, models.Coord{Lat: 28.6139, Lon: 77.2090}, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 vehicles, got %d", len(got))
	}
	if got[0].ID != "AMB-1001" || got[0].DriverName != "Dr. Priya Singh" || got[0].VehicleType != "Basic Ambulance" {
		t.Fatalf("unexpected first vehicle %+v", got[0])
	}

	g.Remove(ctx, "AMB-1001")
	got = g.Nearby(ctx, models.Coord{Lat: 28.6139, Lon: 77.2090}, 5)
	if len(got) != 1 || got[0].ID != "AMB-1002" {
		t.Fatalf("unexpected result after remove %+v", got)
	}
}
