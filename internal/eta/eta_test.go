package eta

import (
	"testing"

	"github.com/example/ambulance-dispatch/internal/models"
)

func TestStraightEstimate(t *testing.T) {
	from := models.Coord{Lat: 0, Lon: 0}
	// one degree of latitude is ~111 km; at 10 m/s that is just over 185 minutes
	e := Straight(from, models.Coord{Lat: 1, Lon: 0}, 10)
	if e.DistanceMeters < 111000 || e.DistanceMeters > 111300 {
		t.Fatalf("unexpected distance %f", e.DistanceMeters)
	}
	if e.Minutes != 186 {
		t.Fatalf("expected 186 minutes, got %d", e.Minutes)
	}
}

func TestStraightEstimateFloorsAndDefaults(t *testing.T) {
	near := Straight(models.Coord{}, models.Coord{Lat: 0.0001}, 0)
	if near.Minutes != 1 {
		t.Fatalf("short hops must report at least a minute, got %d", near.Minutes)
	}
	if same := Straight(models.Coord{Lat: 5}, models.Coord{Lat: 5}, 8); same.Minutes != 0 || same.DistanceMeters != 0 {
		t.Fatalf("expected zero estimate for identical points, got %+v", same)
	}
}
