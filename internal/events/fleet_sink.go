package events

import (
	"context"

	"github.com/example/ambulance-dispatch/internal/geo"
	"github.com/example/ambulance-dispatch/internal/models"
)

// FleetSink mirrors the vehicles of active requests into a geo index so the
// nearby endpoint and the live map see them. Candidates are listed while
// searching; once a vehicle is assigned the others are withdrawn, and the
// assigned one follows its position until the request ends.
type FleetSink struct {
	geo    geo.Geo
	listed map[string]fleetEntry
}

type fleetEntry struct {
	requestID string
	ids       []string
}

func NewFleetSink(g geo.Geo) *FleetSink {
	return &FleetSink{geo: g, listed: make(map[string]fleetEntry)}
}

func (f *FleetSink) Name() string { return "fleet" }

func (f *FleetSink) Handle(ctx context.Context, e Event) error {
	s := e.Snapshot
	prev, seen := f.listed[e.SessionID]

	switch {
	case s.Stage == models.StageSearching:
		if seen && prev.requestID == s.RequestID {
			return nil
		}
		f.withdraw(ctx, e.SessionID)
		ids := make([]string, 0, len(s.Candidates))
		for _, v := range s.Candidates {
			f.geo.Upsert(ctx, v)
			ids = append(ids, v.ID)
		}
		f.listed[e.SessionID] = fleetEntry{requestID: s.RequestID, ids: ids}
	case s.Stage == models.StageFound || s.Stage == models.StageEnRoute:
		if s.Assigned == nil {
			return nil
		}
		if seen && (prev.requestID != s.RequestID || len(prev.ids) != 1) {
			f.withdraw(ctx, e.SessionID)
		}
		v := *s.Assigned
		if s.Position != nil {
			v.Position = *s.Position
		}
		f.geo.Upsert(ctx, v)
		f.listed[e.SessionID] = fleetEntry{requestID: s.RequestID, ids: []string{v.ID}}
	default:
		f.withdraw(ctx, e.SessionID)
	}
	return nil
}

func (f *FleetSink) withdraw(ctx context.Context, sessionID string) {
	prev, ok := f.listed[sessionID]
	if !ok {
		return
	}
	delete(f.listed, sessionID)
	if len(prev.ids) > 0 {
		f.geo.Remove(ctx, prev.ids...)
	}
}
