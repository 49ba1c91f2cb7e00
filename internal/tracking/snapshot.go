package tracking

import (
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Snapshot is a read-only copy of a dispatch request.
type Snapshot struct {
	SessionID      string           `json:"session_id"`
	RequestID      string           `json:"request_id"`
	Stage          models.Stage     `json:"stage"`
	Origin         *models.Coord    `json:"origin,omitempty"`
	OriginFallback bool             `json:"origin_fallback,omitempty"`
	Warning        string           `json:"warning,omitempty"`
	Candidates     []models.Vehicle `json:"candidates,omitempty"`
	Assigned       *models.Vehicle  `json:"assigned,omitempty"`
	Position       *models.Coord    `json:"position,omitempty"`
	ETAMinutes     *int             `json:"eta_minutes,omitempty"`
	Route          []models.Coord   `json:"route,omitempty"`
	Traveled       []models.Coord   `json:"traveled,omitempty"`
	Remaining      []models.Coord   `json:"remaining,omitempty"`
	Step           int              `json:"step"`
	TotalSteps     int              `json:"total_steps"`
	RoutePending   bool             `json:"route_pending,omitempty"`
	RouteReady     bool             `json:"route_ready,omitempty"`
	RouteError     string           `json:"route_error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (t *Tracker) snapshotLocked() Snapshot {
	r := t.req
	s := Snapshot{
		SessionID:      t.sessionID,
		RequestID:      r.id,
		Stage:          r.stage,
		OriginFallback: r.originFallback,
		Warning:        r.warning,
		RoutePending:   r.routePending,
		RouteReady:     r.routeReady != nil,
		CreatedAt:      r.createdAt,
		UpdatedAt:      r.updatedAt,
	}
	if r.stage != models.StageInitial {
		o := r.origin
		s.Origin = &o
	}
	if len(r.candidates) > 0 {
		s.Candidates = append([]models.Vehicle(nil), r.candidates...)
	}
	if r.assigned != nil {
		v := *r.assigned
		s.Assigned = &v
	}
	if r.position != nil {
		p := *r.position
		s.Position = &p
	}
	if r.hasETA {
		eta := r.eta
		s.ETAMinutes = &eta
	}
	if r.routeErr != nil {
		s.RouteError = r.routeErr.Error()
	}
	if r.interp != nil {
		s.Route = append([]models.Coord(nil), r.route...)
		s.Traveled = r.interp.Traveled()
		s.Remaining = r.interp.Remaining()
		s.Step = r.interp.Step()
		s.TotalSteps = r.interp.TotalSteps()
	}
	return s
}
