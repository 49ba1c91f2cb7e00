package events

import (
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Message is the wire form of an event on the dispatch-events topic.
type Message struct {
	SessionID  string        `json:"session_id"`
	RequestID  string        `json:"request_id"`
	Stage      models.Stage  `json:"stage"`
	VehicleID  string        `json:"vehicle_id,omitempty"`
	Position   *models.Coord `json:"position,omitempty"`
	ETAMinutes *int          `json:"eta_minutes,omitempty"`
	Step       int           `json:"step"`
	TotalSteps int           `json:"total_steps"`
	At         time.Time     `json:"at"`
}

func NewMessage(e Event) Message {
	s := e.Snapshot
	m := Message{
		SessionID:  e.SessionID,
		RequestID:  s.RequestID,
		Stage:      s.Stage,
		Position:   s.Position,
		ETAMinutes: s.ETAMinutes,
		Step:       s.Step,
		TotalSteps: s.TotalSteps,
		At:         e.At,
	}
	if s.Assigned != nil {
		m.VehicleID = s.Assigned.ID
	}
	return m
}
