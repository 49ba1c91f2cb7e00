package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
	"github.com/example/ambulance-dispatch/internal/tracking"
)

const (
	defaultNearbyLimit = 5
	maxNearbyLimit     = 50
	maxBodyBytes       = 1 << 16
)

var errNoOrigin = errors.New("no origin supplied")

type Server struct {
	Sessions *tracking.Manager
	Geo      geo.Geo
	Store    storage.DispatchStore
	Alerts   *dispatch.AlertService
	WSReg    *dispatch.WSRegistry
	SpeedMps float64

	logger  *slog.Logger
	mux     *mux.Router
	handler http.Handler
	closers []func(ctx context.Context) error
}

// Options carries the collaborators of a Server. Nil fields get in-memory
// defaults.
type Options struct {
	Logger      *slog.Logger
	Sessions    *tracking.Manager
	Geo         geo.Geo
	Store       storage.DispatchStore
	Alerts      *dispatch.AlertService
	WSReg       *dispatch.WSRegistry
	CORSOrigins []string
	// SpeedMps drives the straight-line ETA shown for nearby vehicles.
	SpeedMps float64
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Geo == nil {
		opts.Geo = geo.NewIndex()
	}
	if opts.Store == nil {
		opts.Store = storage.NewMemoryStore()
	}
	if opts.WSReg == nil {
		opts.WSReg = dispatch.NewWSRegistry(opts.Logger)
	}
	if opts.Alerts == nil {
		opts.Alerts = &dispatch.AlertService{Notifiers: []dispatch.Notifier{dispatch.LogNotifier{Logger: opts.Logger}}, Logger: opts.Logger}
	}
	if opts.Sessions == nil {
		logger := opts.Logger
		opts.Sessions = tracking.NewManager(func(id string) *tracking.Tracker {
			return tracking.New(id, tracking.DefaultConfig(), tracking.Deps{Logger: logger})
		})
	}
	s := &Server{
		Sessions: opts.Sessions,
		Geo:      opts.Geo,
		Store:    opts.Store,
		Alerts:   opts.Alerts,
		WSReg:    opts.WSReg,
		SpeedMps: opts.SpeedMps,
		logger:   opts.Logger,
		mux:      mux.NewRouter(),
	}
	s.routes()
	s.registerMiddleware()
	s.handler = corsMiddleware(opts.CORSOrigins)(s.mux)
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleOpenSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/dispatch", s.handleRequestDispatch).Methods("POST")
	api.HandleFunc("/sessions/{id}/dispatch", s.handleState).Methods("GET")
	api.HandleFunc("/sessions/{id}/dispatch", s.handleCancel).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/dispatch/route", s.handleRetryRoute).Methods("POST")
	api.HandleFunc("/sessions/{id}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/vehicles/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/alerts", s.handleAlert).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

// Close tears down every session, then the collaborators registered by the
// wiring in reverse order.
func (s *Server) Close(ctx context.Context) error {
	s.Sessions.CloseAll()
	s.WSReg.CloseAll()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	t := s.Sessions.Open()
	s.logger.Info("session opened", "session_id", t.SessionID())
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": t.SessionID()})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Sessions.Close(id); err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("session closed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

type dispatchRequest struct {
	Origin *models.Coord `json:"origin"`
}

func (s *Server) handleRequestDispatch(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	var body dispatchRequest
	if err := decodeOptional(r, &body); err != nil {
		writeError(w, badRequest(err))
		return
	}
	var src tracking.OriginSource = tracking.Unavailable{Err: errNoOrigin}
	if body.Origin != nil {
		src = tracking.Fixed(*body.Origin)
	}
	snap, err := t.RequestDispatch(r.Context(), src)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.State())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	t.Cancel()
	writeJSON(w, http.StatusOK, t.State())
}

func (s *Server) handleRetryRoute(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	if err := t.RetryRoute(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t.State())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := s.Store.ListDispatches(r.Context(), id)
	if err != nil {
		s.logger.Error("history lookup failed", "session_id", id, "error", err)
		writeError(w, err)
		return
	}
	out := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, historyEntry(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "dispatches": out})
}

type historyEntry struct {
	RequestID string       `json:"request_id"`
	SessionID string       `json:"session_id"`
	VehicleID string       `json:"vehicle_id,omitempty"`
	Origin    models.Coord `json:"origin"`
	Status    string       `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	at := models.Coord{Lat: lat, Lon: lon}
	if errLat != nil || errLon != nil || !at.Valid() {
		writeError(w, badRequest(fmt.Errorf("lat and lon must be valid coordinates")))
		return
	}
	limit := defaultNearbyLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, badRequest(fmt.Errorf("limit must be a positive integer")))
			return
		}
		limit = min(n, maxNearbyLimit)
	}
	vehicles := s.Geo.Nearby(r.Context(), at, limit)
	out := make([]nearbyVehicle, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, nearbyVehicle{Vehicle: v, Estimate: eta.Straight(v.Position, at, s.SpeedMps)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vehicles": out})
}

type nearbyVehicle struct {
	models.Vehicle
	eta.Estimate
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	var req dispatch.AlertRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, badRequest(err))
		return
	}
	res, err := s.Alerts.Send(r.Context(), req)
	switch {
	case errors.Is(err, dispatch.ErrDeliveryFailed):
		writeJSON(w, http.StatusBadGateway, res)
	case err != nil:
		writeError(w, err)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

var upgrader = websocket.Upgrader{
	// the browser client is served from another origin; CORS rules apply to the API only
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	t, ok := s.tracker(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	id := t.SessionID()
	ws := s.WSReg.Add(id, conn)
	defer s.WSReg.Remove(id, ws)
	if err := ws.Send(t.State()); err != nil {
		return
	}
	// drain until the browser goes away
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *Server) tracker(w http.ResponseWriter, r *http.Request) (*tracking.Tracker, bool) {
	t, err := s.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return t, true
}

// decodeOptional decodes a JSON body into v; an empty body leaves v untouched.
func decodeOptional(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return badRequestError{err} }

func statusFor(err error) int {
	var br badRequestError
	switch {
	case errors.As(err, &br),
		errors.Is(err, dispatch.ErrNoServices),
		errors.Is(err, dispatch.ErrUnknownService),
		errors.Is(err, dispatch.ErrInvalidLocation):
		return http.StatusBadRequest
	case errors.Is(err, tracking.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracking.ErrInProgress), errors.Is(err, tracking.ErrNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrClosed):
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
