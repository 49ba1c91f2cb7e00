package tracking

import (
	"errors"
	"fmt"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Event triggers a lifecycle transition.
type Event string

const (
	EventCall          Event = "call"
	EventSearchElapsed Event = "search_elapsed"
	EventDepart        Event = "depart"
	EventArrive        Event = "arrive"
)

var (
	ErrInvalidTransition = errors.New("tracking: invalid transition")
	ErrInProgress        = errors.New("tracking: dispatch already in progress")
	ErrNothingToRetry    = errors.New("tracking: no failed route to retry")
	ErrClosed            = errors.New("tracking: tracker closed")
	ErrSessionNotFound   = errors.New("tracking: session not found")
)

// Next returns the stage reached by applying e to s. Stages only move
// forward; a new call is accepted from initial and from arrived.
func Next(s models.Stage, e Event) (models.Stage, error) {
	switch {
	case e == EventCall && (s == models.StageInitial || s == models.StageArrived):
		return models.StageSearching, nil
	case e == EventSearchElapsed && s == models.StageSearching:
		return models.StageFound, nil
	case e == EventDepart && s == models.StageFound:
		return models.StageEnRoute, nil
	case e == EventArrive && s == models.StageEnRoute:
		return models.StageArrived, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
