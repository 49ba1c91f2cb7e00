// Package tracking implements the simulated dispatch lifecycle of one
// emergency request: searching for an ambulance, assigning it, resolving its
// route and moving it along that route until it arrives.
//
// A Tracker owns exactly one request at a time. All mutations happen under
// the tracker's lock, either from a caller (RequestDispatch, Cancel,
// RetryRoute) or from a callback scheduled through clock.Scheduler. Every
// callback carries the generation of the request it was scheduled for and
// the sequence number of its timer; a callback that no longer matches is
// dropped, so a superseded request is never mutated.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/clock"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/routing"
)

// DefaultOrigin is used when the requester's position cannot be acquired.
var DefaultOrigin = models.Coord{Lat: 28.6139, Lon: 77.2090}

const fallbackWarning = "location unavailable, using default location"

type Config struct {
	SearchDelay    time.Duration
	DepartDelay    time.Duration
	TripDuration   time.Duration
	RouteTimeout   time.Duration
	InitialETA     int
	CandidateCount int
	DefaultOrigin  models.Coord
}

func DefaultConfig() Config {
	return Config{
		SearchDelay:    5 * time.Second,
		DepartDelay:    3 * time.Second,
		TripDuration:   10 * time.Minute,
		RouteTimeout:   15 * time.Second,
		InitialETA:     10,
		CandidateCount: 5,
		DefaultOrigin:  DefaultOrigin,
	}
}

// Observer receives a snapshot after every change. Observers run with the
// tracker lock held: they must not call back into the Tracker and should
// hand slow work off to another goroutine.
type Observer func(Snapshot)

type Deps struct {
	Scheduler clock.Scheduler
	Routes    routing.Provider
	Fleet     fleet.Generator
	Logger    *slog.Logger
	Observers []Observer
}

type Tracker struct {
	sessionID string
	cfg       Config
	sched     clock.Scheduler
	routes    routing.Provider
	fleet     fleet.Generator
	logger    *slog.Logger

	mu          sync.Mutex
	observers   []Observer
	req         *request
	gen         uint64
	timer       clock.Timer
	timerSeq    uint64
	routeSeq    uint64
	cancelRoute func()
	closed      bool
}

type request struct {
	id             string
	stage          models.Stage
	origin         models.Coord
	originFallback bool
	warning        string
	candidates     []models.Vehicle
	assigned       *models.Vehicle

	routePending bool
	routeErr     error
	routeReady   []models.Coord // resolved while found, not yet followed
	departDue    bool

	route     []models.Coord
	interp    *Interpolator
	enRouteAt time.Time
	position  *models.Coord
	eta       int
	hasETA    bool

	createdAt time.Time
	updatedAt time.Time
}

func New(sessionID string, cfg Config, deps Deps) *Tracker {
	if deps.Scheduler == nil {
		deps.Scheduler = clock.Real{}
	}
	if deps.Routes == nil {
		deps.Routes = routing.StraightLine{}
	}
	if deps.Fleet == nil {
		deps.Fleet = fleet.NewRandomGenerator(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = 1
	}
	t := &Tracker{
		sessionID: sessionID,
		cfg:       cfg,
		sched:     deps.Scheduler,
		routes:    deps.Routes,
		fleet:     deps.Fleet,
		logger:    deps.Logger.With("session_id", sessionID),
		observers: deps.Observers,
	}
	t.req = t.freshRequest()
	return t
}

func (t *Tracker) SessionID() string { return t.sessionID }

// Subscribe registers an observer for subsequent changes.
func (t *Tracker) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// RequestDispatch starts a new lifecycle at the position reported by src.
// If the position cannot be acquired the default origin is used and the
// snapshot carries a warning. Calls made while a request is in progress
// change nothing and return ErrInProgress.
func (t *Tracker) RequestDispatch(ctx context.Context, src OriginSource) (Snapshot, error) {
	origin, locErr := locate(ctx, src)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.snapshotLocked(), ErrClosed
	}
	if _, err := Next(t.req.stage, EventCall); err != nil {
		return t.snapshotLocked(), ErrInProgress
	}

	t.stopLocked()
	t.gen++
	req := t.freshRequest()
	if locErr != nil {
		req.origin = t.cfg.DefaultOrigin
		req.originFallback = true
		req.warning = fallbackWarning
		observability.OriginFallbackTotal.Inc()
		t.logger.Warn("origin unavailable, using default", "error", locErr, "origin", req.origin.String())
	} else {
		req.origin = origin
	}
	t.req = req

	t.ensureCandidatesLocked()
	t.setStageLocked(models.StageSearching)
	observability.DispatchRequestsTotal.Inc()
	t.scheduleLocked(t.cfg.SearchDelay, t.onSearchElapsed)
	t.notifyLocked()
	return t.snapshotLocked(), nil
}

// State returns a read-only snapshot of the current request.
func (t *Tracker) State() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Cancel abandons the current request and resets to a fresh initial one.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
}

// Close cancels the current request and detaches all observers. Later
// calls to RequestDispatch fail with ErrClosed.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.cancelLocked()
	t.closed = true
	t.observers = nil
}

// RetryRoute asks the route provider again after a failed resolution.
func (t *Tracker) RetryRoute() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	r := t.req
	if r.stage != models.StageFound || r.routePending || r.routeErr == nil {
		return ErrNothingToRetry
	}
	t.logger.Info("retrying route resolution", "request_id", r.id)
	t.resolveRouteLocked()
	t.notifyLocked()
	return nil
}

func (t *Tracker) cancelLocked() {
	prev := t.req
	t.stopLocked()
	t.gen++
	t.req = t.freshRequest()
	if prev.stage != models.StageInitial && prev.stage != models.StageArrived {
		observability.DispatchCancelsTotal.Inc()
		t.logger.Info("dispatch cancelled", "request_id", prev.id, "stage", string(prev.stage))
	}
	t.notifyLocked()
}

func (t *Tracker) onSearchElapsed() {
	r := t.req
	if _, err := Next(r.stage, EventSearchElapsed); err != nil {
		t.logger.Error("search timer fired in wrong stage", "error", err)
		return
	}
	if len(r.candidates) == 0 {
		// nothing to assign yet; generate again and keep searching
		t.ensureCandidatesLocked()
		t.scheduleLocked(t.cfg.SearchDelay, t.onSearchElapsed)
		t.notifyLocked()
		return
	}
	v := r.candidates[0]
	r.assigned = &v
	pos := v.Position
	r.position = &pos
	r.eta = t.cfg.InitialETA
	r.hasETA = true
	t.setStageLocked(models.StageFound)
	t.logger.Info("ambulance assigned", "request_id", r.id, "vehicle_id", v.ID)

	t.scheduleLocked(t.cfg.DepartDelay, t.onDepartDue)
	t.resolveRouteLocked()
	t.notifyLocked()
}

func (t *Tracker) onDepartDue() {
	r := t.req
	if _, err := Next(r.stage, EventDepart); err != nil {
		t.logger.Error("departure timer fired in wrong stage", "error", err)
		return
	}
	r.departDue = true
	if r.routeReady != nil {
		t.enterEnRouteLocked()
	}
	t.notifyLocked()
}

// resolveRouteLocked requests a route from the assigned vehicle to the
// origin. The result is applied by onRouteResolved.
func (t *Tracker) resolveRouteLocked() {
	r := t.req
	if t.cancelRoute != nil {
		t.cancelRoute()
	}
	// the timeout runs on the scheduler so a manual clock can expire it
	ctx, cancel := context.WithCancelCause(context.Background())
	expired := fmt.Errorf("route resolution exceeded %s: %w", t.cfg.RouteTimeout, context.DeadlineExceeded)
	timeout := t.sched.AfterFunc(t.cfg.RouteTimeout, func() { cancel(expired) })
	t.cancelRoute = func() {
		timeout.Stop()
		cancel(context.Canceled)
	}
	t.routeSeq++
	gen, seq := t.gen, t.routeSeq
	r.routePending = true
	r.routeErr = nil
	from, to := r.assigned.Position, r.origin

	go func() {
		defer cancel(nil)
		start := time.Now()
		route, err := t.routes.Route(ctx, from, to)
		if err != nil && ctx.Err() != nil {
			err = context.Cause(ctx)
		}
		if err == nil {
			err = routing.Validate(route)
		}
		observability.RouteResolveDuration.Observe(time.Since(start).Seconds())
		t.onRouteResolved(gen, seq, route, err)
	}()
}

func (t *Tracker) onRouteResolved(gen, seq uint64, route []models.Coord, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.gen || seq != t.routeSeq || t.closed || t.req.stage != models.StageFound {
		observability.StaleCallbacksTotal.Inc()
		return
	}
	r := t.req
	r.routePending = false
	if t.cancelRoute != nil {
		t.cancelRoute()
		t.cancelRoute = nil
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Warn("route resolution timed out", "request_id", r.id, "timeout", t.cfg.RouteTimeout)
		} else {
			t.logger.Warn("route resolution failed", "request_id", r.id, "error", err)
		}
		r.routeErr = err
		observability.RouteFailuresTotal.Inc()
		t.notifyLocked()
		return
	}
	r.routeReady = append([]models.Coord(nil), route...)
	if r.departDue {
		t.enterEnRouteLocked()
	}
	t.notifyLocked()
}

func (t *Tracker) enterEnRouteLocked() {
	r := t.req
	interp, err := NewInterpolator(r.routeReady, t.cfg.TripDuration)
	if err != nil {
		r.routeErr = err
		r.routeReady = nil
		t.logger.Error("cannot follow resolved route", "request_id", r.id, "error", err)
		return
	}
	r.route = r.routeReady
	r.routeReady = nil
	r.interp = interp
	r.enRouteAt = t.sched.Now()
	pos := interp.Position()
	r.position = &pos
	r.eta = interp.ETAMinutes()
	r.hasETA = true
	t.setStageLocked(models.StageEnRoute)
	t.scheduleLocked(interp.Interval(), t.onTick)
}

func (t *Tracker) onTick() {
	r := t.req
	if r.stage != models.StageEnRoute || r.interp == nil {
		t.logger.Error("movement tick fired in wrong stage", "stage", string(r.stage))
		return
	}
	p := r.interp.Advance(t.sched.Now().Sub(r.enRouteAt))
	observability.MovementTicksTotal.Inc()
	pos := p.Position
	r.position = &pos
	if p.Arrived {
		r.hasETA = false
		r.eta = 0
		t.setStageLocked(models.StageArrived)
		t.logger.Info("ambulance arrived", "request_id", r.id, "vehicle_id", r.assigned.ID)
		t.notifyLocked()
		return
	}
	r.eta = p.ETAMinutes
	t.scheduleLocked(r.interp.Interval(), t.onTick)
	t.notifyLocked()
}

func (t *Tracker) setStageLocked(next models.Stage) {
	t.req.stage = next
	t.req.updatedAt = t.sched.Now()
	observability.StageTransitionsTotal.WithLabelValues(string(next)).Inc()
	t.logger.Info("dispatch stage changed", "request_id", t.req.id, "stage", string(next))
}

func (t *Tracker) ensureCandidatesLocked() {
	if len(t.req.candidates) == 0 {
		t.req.candidates = t.fleet.Generate(t.req.origin, t.cfg.CandidateCount)
	}
}

// scheduleLocked replaces the active timer. Only the most recently
// scheduled callback of the current generation may run.
func (t *Tracker) scheduleLocked(d time.Duration, fn func()) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timerSeq++
	gen, seq := t.gen, t.timerSeq
	t.timer = t.sched.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if gen != t.gen || seq != t.timerSeq || t.closed {
			observability.StaleCallbacksTotal.Inc()
			return
		}
		t.timer = nil
		fn()
	})
}

// stopLocked clears the active timer and any in-flight route resolution.
func (t *Tracker) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.timerSeq++
	if t.cancelRoute != nil {
		t.cancelRoute()
		t.cancelRoute = nil
	}
	t.routeSeq++
}

func (t *Tracker) freshRequest() *request {
	now := t.sched.Now()
	return &request{
		id:        uuid.NewString(),
		stage:     models.StageInitial,
		createdAt: now,
		updatedAt: now,
	}
}

func (t *Tracker) notifyLocked() {
	t.req.updatedAt = t.sched.Now()
	if len(t.observers) == 0 {
		return
	}
	s := t.snapshotLocked()
	for _, o := range t.observers {
		o(s)
	}
}
