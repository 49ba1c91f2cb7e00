package routing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/models"
)

const osrmOK = `{"code":"Ok","routes":[{"duration":540.2,"distance":3200.5,"geometry":{"type":"LineString","coordinates":[[77.2,28.6],[77.21,28.61],[77.22,28.62]]}}]}`

func TestOSRMRouteParsesGeoJSON(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, osrmOK)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL + "/")
	route, err := c.Route(context.Background(), models.Coord{Lat: 28.6, Lon: 77.2}, models.Coord{Lat: 28.62, Lon: 77.22})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/route/v1/driving/77.200000,28.600000;77.220000,28.620000" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if !strings.Contains(gotQuery, "geometries=geojson") || !strings.Contains(gotQuery, "overview=full") {
		t.Fatalf("unexpected query %s", gotQuery)
	}
	if len(route) != 3 || route[1] != (models.Coord{Lat: 28.61, Lon: 77.21}) {
		t.Fatalf("unexpected route %+v", route)
	}
}

func TestOSRMRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, osrmOK)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL)
	c.Backoff = time.Millisecond
	if _, err := c.Route(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route between points","routes":[]}`)
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).Route(context.Background(), models.Coord{}, models.Coord{Lat: 1})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestOSRMSinglePointIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"geometry":{"coordinates":[[77.2,28.6]]}}]}`)
	}))
	defer srv.Close()

	_, err := NewOSRMClient(srv.URL).Route(context.Background(), models.Coord{}, models.Coord{})
	if !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestStraightLineEndpoints(t *testing.T) {
	from := models.Coord{Lat: 0, Lon: 0}
	to := models.Coord{Lat: 0, Lon: 3}
	route, err := StraightLine{Steps: 3}.Route(context.Background(), from, to)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Coord{{Lon: 0}, {Lon: 1}, {Lon: 2}, {Lon: 3}}
	if len(route) != len(want) {
		t.Fatalf("expected %d points, got %d", len(want), len(route))
	}
	for i := range want {
		if route[i] != want[i] {
			t.Fatalf("point %d: expected %+v, got %+v", i, want[i], route[i])
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("nil route: %v", err)
	}
	if err := Validate([]models.Coord{{}}); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("single point: %v", err)
	}
	if err := Validate([]models.Coord{{}, {Lat: 1}}); err != nil {
		t.Fatalf("two points: %v", err)
	}
}

func TestFallbackUsesSecondaryOnError(t *testing.T) {
	p := Fallback{
		Primary: ProviderFunc(func(context.Context, models.Coord, models.Coord) ([]models.Coord, error) {
			return nil, ErrNoRoute
		}),
		Secondary: StraightLine{Steps: 2},
	}
	route, err := p.Route(context.Background(), models.Coord{}, models.Coord{Lat: 2})
	if err != nil || len(route) != 3 {
		t.Fatalf("unexpected fallback result %v %v", route, err)
	}
}

func TestCachedProviderHitsCache(t *testing.T) {
	var calls int
	inner := ProviderFunc(func(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
		calls++
		return []models.Coord{from, to}, nil
	})
	p := Cached{Provider: inner, Cache: NewMemoryCache(time.Minute)}
	for i := 0; i < 3; i++ {
		if _, err := p.Route(context.Background(), models.Coord{}, models.Coord{Lat: 1}); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", calls)
	}
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	c.Set(context.Background(), models.Coord{}, models.Coord{Lat: 1}, []models.Coord{{}, {Lat: 1}})
	if _, ok := c.Get(context.Background(), models.Coord{}, models.Coord{Lat: 1}); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(context.Background(), models.Coord{}, models.Coord{Lat: 1}); ok {
		t.Fatal("expected expiry")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	ctx := context.Background()
	c := NewRedisCache(rc, "route:", time.Minute, nil)
	from, to := models.Coord{Lat: 28.6, Lon: 77.2}, models.Coord{Lat: 28.7, Lon: 77.3}
	if _, ok := c.Get(ctx, from, to); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set(ctx, from, to, []models.Coord{from, to})
	got, ok := c.Get(ctx, from, to)
	if !ok || len(got) != 2 || got[1] != to {
		t.Fatalf("unexpected cache result %v %v", got, ok)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok := c.Get(ctx, from, to); ok {
		t.Fatal("expected ttl expiry")
	}
}
