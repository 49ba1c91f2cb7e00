package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	removed  []string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func (f *fakeUpdater) Remove(ctx context.Context, key, member, metaKey string) error {
	f.removed = append(f.removed, member)
	return nil
}

func moving(session, vehicle string, stage models.Stage) events.Message {
	eta := 4
	return events.Message{
		SessionID:  session,
		RequestID:  "r-" + session,
		Stage:      stage,
		VehicleID:  vehicle,
		Position:   &models.Coord{Lat: 28.61, Lon: 77.21},
		ETAMinutes: &eta,
		At:         time.Unix(1700000000, 0),
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "ambulances_live", moving("s1", "AMB-1", models.StageEnRoute), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "ambulances_live", moving("s1", "AMB-1", models.StageEnRoute), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.geoCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.geoCalls)
	}
}

func TestLiveTrackerWithdrawsFinishedVehicles(t *testing.T) {
	f := &fakeUpdater{}
	live := newLiveTracker(f, "ambulances_live", 1, time.Millisecond)
	ctx := context.Background()

	if changed, err := live.apply(ctx, events.Message{SessionID: "s1", Stage: models.StageSearching}); err != nil || changed {
		t.Fatalf("searching must not touch redis: %v %v", changed, err)
	}
	if _, err := live.apply(ctx, moving("s1", "AMB-1", models.StageEnRoute)); err != nil {
		t.Fatal(err)
	}
	arrived := moving("s1", "AMB-1", models.StageArrived)
	if changed, err := live.apply(ctx, arrived); err != nil || !changed {
		t.Fatalf("arrival should withdraw the vehicle: %v %v", changed, err)
	}
	if len(f.removed) != 1 || f.removed[0] != "AMB-1" {
		t.Fatalf("unexpected removals %v", f.removed)
	}
	if changed, _ := live.apply(ctx, events.Message{SessionID: "s1", Stage: models.StageInitial}); changed {
		t.Fatal("nothing left to withdraw")
	}
}

func TestLiveTrackerAgainstRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	live := newLiveTracker(&redisAdapter{c: rc}, "ambulances_live", 2, time.Millisecond)
	ctx := context.Background()

	if _, err := live.apply(ctx, moving("s1", "AMB-7", models.StageEnRoute)); err != nil {
		t.Fatal(err)
	}
	pos, err := rc.GeoPos(ctx, "ambulances_live", "AMB-7").Result()
	if err != nil || len(pos) != 1 || pos[0] == nil {
		t.Fatalf("expected live position, got %v %v", pos, err)
	}
	if stage := mr.HGet(liveMetaKey("AMB-7"), "stage"); stage != "enroute" {
		t.Fatalf("unexpected stage meta %q", stage)
	}

	if _, err := live.apply(ctx, events.Message{SessionID: "s1", Stage: models.StageInitial}); err != nil {
		t.Fatal(err)
	}
	if n, _ := rc.ZCard(ctx, "ambulances_live").Result(); n != 0 {
		t.Fatalf("expected vehicle withdrawn, %d left", n)
	}
	if mr.Exists(liveMetaKey("AMB-7")) {
		t.Fatal("expected live metadata deleted")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := loadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored, got %v", err)
	}

	path := filepath.Join(dir, "consumer.env")
	if err := os.WriteFile(path, []byte("DISPATCH_CONSUMER_DOTENV_TEST=ambulances\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("DISPATCH_CONSUMER_DOTENV_TEST") })
	if err := loadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("DISPATCH_CONSUMER_DOTENV_TEST"); got != "ambulances" {
		t.Fatalf("expected variable from env file, got %q", got)
	}

	// a directory exists but cannot be parsed as an env file
	if err := loadDotEnv(dir); err == nil {
		t.Fatal("expected an error for an unreadable env file")
	}
}
