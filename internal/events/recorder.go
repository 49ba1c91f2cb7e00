package events

import (
	"context"

	"github.com/example/ambulance-dispatch/internal/models"
	"github.com/example/ambulance-dispatch/internal/storage"
)

type recorded struct {
	requestID string
	vehicleID string
	stage     models.Stage
}

// Recorder writes a history record when a request starts and updates it on
// every stage change. A request replaced by a fresh initial one before it
// arrived is marked cancelled.
type Recorder struct {
	store storage.DispatchStore
	last  map[string]recorded
}

func NewRecorder(store storage.DispatchStore) *Recorder {
	return &Recorder{store: store, last: make(map[string]recorded)}
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Handle(ctx context.Context, e Event) error {
	s := e.Snapshot
	prev, seen := r.last[e.SessionID]

	if seen && prev.requestID != s.RequestID && prev.stage != models.StageArrived {
		if err := r.store.UpdateDispatch(ctx, &models.DispatchRecord{RequestID: prev.requestID, VehicleID: prev.vehicleID, Status: models.StatusCancelled, UpdatedAt: e.At}); err != nil {
			return err
		}
	}
	if s.Stage == models.StageInitial {
		delete(r.last, e.SessionID)
		return nil
	}
	if seen && prev.requestID == s.RequestID && prev.stage == s.Stage {
		return nil
	}

	rec := &models.DispatchRecord{
		RequestID: s.RequestID,
		SessionID: e.SessionID,
		Status:    string(s.Stage),
		CreatedAt: s.CreatedAt,
		UpdatedAt: e.At,
	}
	if s.Origin != nil {
		rec.Origin = *s.Origin
	}
	if s.Assigned != nil {
		rec.VehicleID = s.Assigned.ID
	}
	var err error
	if seen && prev.requestID == s.RequestID {
		err = r.store.UpdateDispatch(ctx, rec)
	} else {
		err = r.store.SaveDispatch(ctx, rec)
	}
	if err != nil {
		return err
	}
	r.last[e.SessionID] = recorded{requestID: s.RequestID, vehicleID: rec.VehicleID, stage: s.Stage}
	return nil
}
