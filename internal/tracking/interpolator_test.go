package tracking

import (
	"errors"
	"testing"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/routing"
)

func lineRoute(n int) []models.Coord {
	out := make([]models.Coord, n)
	for i := range out {
		out[i] = models.Coord{Lat: 0, Lon: float64(i)}
	}
	return out
}

func TestInterpolatorFourPointRoute(t *testing.T) {
	ip, err := NewInterpolator(lineRoute(4), 9*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ip.Interval() != 3*time.Minute {
		t.Fatalf("expected 3m interval, got %s", ip.Interval())
	}
	if ip.ETAMinutes() != 9 {
		t.Fatalf("expected initial eta 9, got %d", ip.ETAMinutes())
	}

	p := ip.Advance(3 * time.Minute)
	if p.Position != (models.Coord{Lat: 0, Lon: 1}) || p.ETAMinutes != 6 || p.Arrived {
		t.Fatalf("unexpected progress after 1 tick: %+v", p)
	}
	p = ip.Advance(6 * time.Minute)
	if p.ETAMinutes != 3 || p.Arrived {
		t.Fatalf("unexpected progress after 2 ticks: %+v", p)
	}
	p = ip.Advance(9 * time.Minute)
	if !p.Arrived || p.ETAMinutes != 0 || p.Position != (models.Coord{Lat: 0, Lon: 3}) {
		t.Fatalf("unexpected progress after 3 ticks: %+v", p)
	}
}

func TestInterpolatorPrefixSuffixReconstructRoute(t *testing.T) {
	route := lineRoute(7)
	ip, err := NewInterpolator(route, 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	for !ip.Done() {
		ip.Advance(0)
		trav, rem := ip.Traveled(), ip.Remaining()
		if trav[len(trav)-1] != rem[0] {
			t.Fatalf("step %d: prefix and suffix do not share the boundary point", ip.Step())
		}
		joined := append(append([]models.Coord(nil), trav...), rem[1:]...)
		if len(joined) != len(route) {
			t.Fatalf("step %d: reconstructed %d points, want %d", ip.Step(), len(joined), len(route))
		}
		for i := range route {
			if joined[i] != route[i] {
				t.Fatalf("step %d: point %d differs", ip.Step(), i)
			}
		}
	}
}

func TestInterpolatorETAMonotonicAndFloored(t *testing.T) {
	ip, err := NewInterpolator(lineRoute(301), 10*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	prev := ip.ETAMinutes()
	for {
		p := ip.Advance(0)
		if p.Arrived {
			break
		}
		if p.ETAMinutes > prev {
			t.Fatalf("eta increased from %d to %d at step %d", prev, p.ETAMinutes, p.Step)
		}
		if p.ETAMinutes < 1 {
			t.Fatalf("eta below 1 before arrival at step %d", p.Step)
		}
		prev = p.ETAMinutes
	}
	if prev != 1 {
		t.Fatalf("expected last en-route eta to be 1, got %d", prev)
	}
}

func TestInterpolatorSnapsWhenTripElapsed(t *testing.T) {
	ip, err := NewInterpolator(lineRoute(10), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	p := ip.Advance(2 * time.Minute)
	if !p.Arrived || p.Step != 9 || p.Position != (models.Coord{Lon: 9}) {
		t.Fatalf("expected snap to destination, got %+v", p)
	}
	if rem := ip.Remaining(); len(rem) != 1 {
		t.Fatalf("expected only the destination to remain, got %d points", len(rem))
	}
}

func TestInterpolatorRejectsShortRoutes(t *testing.T) {
	if _, err := NewInterpolator(nil, time.Minute); !errors.Is(err, routing.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute for empty route, got %v", err)
	}
	if _, err := NewInterpolator(lineRoute(1), time.Minute); !errors.Is(err, routing.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute for single point, got %v", err)
	}
	if _, err := NewInterpolator(lineRoute(2), 0); err == nil {
		t.Fatal("expected error for zero trip duration")
	}
}
