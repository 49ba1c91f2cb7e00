package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ambulance-dispatch/internal/clock"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/routing"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/tracking"
)

type testEnv struct {
	srv   *Server
	clock *clock.Fake
	geo   *geo.Index
	store *storage.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := clock.NewFake(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	vehicles := fleet.Static{Relative: true, Vehicles: []models.Vehicle{
		{ID: "AMB-2001", DriverName: "Dr. Neha Sharma", Position: models.Coord{Lat: 0.01, Lon: 0.02}},
		{ID: "AMB-2002", DriverName: "Dr. Sanjay Gupta", Position: models.Coord{Lat: -0.03, Lon: 0.01}},
	}}
	cfg := tracking.DefaultConfig()
	cfg.RouteTimeout = time.Minute
	sessions := tracking.NewManager(func(id string) *tracking.Tracker {
		return tracking.New(id, cfg, tracking.Deps{
			Scheduler: fc,
			Routes:    routing.StraightLine{Steps: 10},
			Fleet:     vehicles,
			Logger:    logger,
		})
	})
	idx := geo.NewIndex()
	store := storage.NewMemoryStore()
	srv := NewServer(Options{Logger: logger, Sessions: sessions, Geo: idx, Store: store})
	t.Cleanup(func() { _ = srv.Close(context.Background()) })
	return &testEnv{srv: srv, clock: fc, geo: idx, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) openSession(t *testing.T) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/sessions", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("open session: status %d", rr.Code)
	}
	var out map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	return out["session_id"]
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) tracking.Snapshot {
	t.Helper()
	var s tracking.Snapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode snapshot: %v (%s)", err, rr.Body.String())
	}
	return s
}

func TestDispatchLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t)
	base := "/api/v1/sessions/" + id + "/dispatch"

	rr := env.do(t, "POST", base, `{"origin":{"lat":19.076,"lon":72.8777}}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	s := decodeSnapshot(t, rr)
	if s.Stage != models.StageSearching || s.Origin == nil || s.Origin.Lat != 19.076 || s.OriginFallback {
		t.Fatalf("unexpected snapshot %+v", s)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}

	if rr := env.do(t, "POST", base, `{}`); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while in progress, got %d", rr.Code)
	}
	if rr := env.do(t, "POST", base+"/route", ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for retry without failure, got %d", rr.Code)
	}

	env.clock.Advance(5 * time.Second)
	s = decodeSnapshot(t, env.do(t, "GET", base, ""))
	if s.Stage != models.StageFound || s.Assigned == nil || s.Assigned.ID != "AMB-2001" {
		t.Fatalf("expected found with first candidate, got %+v", s)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !decodeSnapshot(t, env.do(t, "GET", base, "")).RouteReady {
		if time.Now().After(deadline) {
			t.Fatal("route never resolved")
		}
		time.Sleep(time.Millisecond)
	}
	env.clock.Advance(3 * time.Second)
	s = decodeSnapshot(t, env.do(t, "GET", base, ""))
	if s.Stage != models.StageEnRoute || len(s.Route) != 11 || s.ETAMinutes == nil {
		t.Fatalf("expected enroute along the route, got %s with %d points", s.Stage, len(s.Route))
	}

	rr = env.do(t, "DELETE", base, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rr.Code)
	}
	if s := decodeSnapshot(t, rr); s.Stage != models.StageInitial || s.Assigned != nil {
		t.Fatalf("expected reset after cancel, got %+v", s)
	}
}

func TestDispatchWithoutOriginFallsBack(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t)
	rr := env.do(t, "POST", "/api/v1/sessions/"+id+"/dispatch", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	s := decodeSnapshot(t, rr)
	if !s.OriginFallback || s.Warning == "" || *s.Origin != tracking.DefaultOrigin {
		t.Fatalf("expected default origin with warning, got %+v", s)
	}
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t)
	cases := []struct {
		method, path, body string
		want               int
	}{
		{"POST", "/api/v1/sessions/" + id + "/dispatch", `{"origin":`, http.StatusBadRequest},
		{"GET", "/api/v1/sessions/nope/dispatch", "", http.StatusNotFound},
		{"DELETE", "/api/v1/sessions/nope", "", http.StatusNotFound},
		{"GET", "/api/v1/vehicles/nearby?lat=abc&lon=1", "", http.StatusBadRequest},
		{"GET", "/api/v1/vehicles/nearby?lat=1&lon=1&limit=-2", "", http.StatusBadRequest},
		{"POST", "/api/v1/alerts", `{"services":[],"location":{"lat":1,"lon":1}}`, http.StatusBadRequest},
		{"POST", "/api/v1/alerts", `{"services":["police"]}`, http.StatusBadRequest},
		{"GET", "/ws/nope", "", http.StatusNotFound},
	}
	for _, c := range cases {
		if rr := env.do(t, c.method, c.path, c.body); rr.Code != c.want {
			t.Fatalf("%s %s: expected %d, got %d (%s)", c.method, c.path, c.want, rr.Code, rr.Body.String())
		}
	}
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t)
	if rr := env.do(t, "DELETE", "/api/v1/sessions/"+id, ""); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr := env.do(t, "GET", "/api/v1/sessions/"+id+"/dispatch", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after close, got %d", rr.Code)
	}
}

func TestNearbyVehicles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.geo.Upsert(ctx, models.Vehicle{ID: "far", Position: models.Coord{Lat: 1, Lon: 1}})
	env.geo.Upsert(ctx, models.Vehicle{ID: "near", Position: models.Coord{Lat: 0.001, Lon: 0}})

	rr := env.do(t, "GET", "/api/v1/vehicles/nearby?lat=0&lon=0&limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var out struct {
		Vehicles []struct {
			ID         string  `json:"id"`
			DistanceM  float64 `json:"distance_m"`
			ETAMinutes int     `json:"eta_minutes"`
		} `json:"vehicles"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if len(out.Vehicles) != 1 || out.Vehicles[0].ID != "near" {
		t.Fatalf("unexpected vehicles %+v", out.Vehicles)
	}
	if out.Vehicles[0].DistanceM < 100 || out.Vehicles[0].DistanceM > 120 || out.Vehicles[0].ETAMinutes != 1 {
		t.Fatalf("unexpected estimate %+v", out.Vehicles[0])
	}
}

func TestSessionHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Now().UTC()
	_ = env.store.SaveDispatch(ctx, &models.DispatchRecord{RequestID: "r1", SessionID: "s1", Status: "arrived", CreatedAt: now, UpdatedAt: now})

	rr := env.do(t, "GET", "/api/v1/sessions/s1/history", "")
	var out struct {
		Dispatches []historyEntry `json:"dispatches"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if rr.Code != http.StatusOK || len(out.Dispatches) != 1 || out.Dispatches[0].Status != "arrived" {
		t.Fatalf("unexpected history %d %s", rr.Code, rr.Body.String())
	}
}

type failingNotifier struct{}

func (failingNotifier) Name() string { return "failing" }
func (failingNotifier) Notify(context.Context, models.EmergencyService, models.Alert) error {
	return io.ErrUnexpectedEOF
}

func TestAlertEndpoint(t *testing.T) {
	env := newTestEnv(t)
	body := `{"services":["police","ambulance"],"location":{"lat":28.6,"lon":77.2}}`
	rr := env.do(t, "POST", "/api/v1/alerts", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var res dispatch.AlertResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if len(res.Deliveries) != 2 || res.Deliveries[0].Status != "sent" {
		t.Fatalf("unexpected result %+v", res)
	}

	env.srv.Alerts = &dispatch.AlertService{Notifiers: []dispatch.Notifier{failingNotifier{}}}
	if rr := env.do(t, "POST", "/api/v1/alerts", body); rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 when nothing was delivered, got %d", rr.Code)
	}
}

func TestWebSocketStreamsInitialState(t *testing.T) {
	env := newTestEnv(t)
	id := env.openSession(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/"+id, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var s tracking.Snapshot
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatal(err)
	}
	if s.SessionID != id || s.Stage != models.StageInitial {
		t.Fatalf("unexpected first frame %+v", s)
	}
}

func TestHealthAndCORS(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(t, "GET", "/healthz", ""); rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rr.Code, rr.Body.String())
	}
	req := httptest.NewRequest("OPTIONS", "/api/v1/sessions", bytes.NewReader(nil))
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected CORS headers on preflight, got %v", rr.Header())
	}
}
