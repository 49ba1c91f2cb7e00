package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/ambulance-dispatch/internal/models"
)

// ErrNotFound is returned when no record exists for a request id.
var ErrNotFound = errors.New("storage: dispatch record not found")

// DispatchStore persists the history of dispatch requests.
type DispatchStore interface {
	SaveDispatch(ctx context.Context, r *models.DispatchRecord) error
	UpdateDispatch(ctx context.Context, r *models.DispatchRecord) error
	GetDispatch(ctx context.Context, requestID string) (*models.DispatchRecord, error)
	ListDispatches(ctx context.Context, sessionID string) ([]models.DispatchRecord, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.DispatchRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.DispatchRecord)}
}

func (m *MemoryStore) SaveDispatch(_ context.Context, r *models.DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.RequestID] = *r
	return nil
}

func (m *MemoryStore) UpdateDispatch(_ context.Context, r *models.DispatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.RequestID]
	if !ok {
		return ErrNotFound
	}
	cur.VehicleID = r.VehicleID
	cur.Status = r.Status
	cur.UpdatedAt = r.UpdatedAt
	m.records[r.RequestID] = cur
	return nil
}

func (m *MemoryStore) GetDispatch(_ context.Context, requestID string) (*models.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// ListDispatches returns a session's records, oldest first.
func (m *MemoryStore) ListDispatches(_ context.Context, sessionID string) ([]models.DispatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DispatchRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RequestID < out[j].RequestID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
