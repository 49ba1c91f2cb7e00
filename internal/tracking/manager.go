package tracking

import (
	"sync"

	"github.com/google/uuid"

	"github.com/example/ambulance-dispatch/internal/observability"
)

// Manager keeps one Tracker per user session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Tracker
	factory  func(sessionID string) *Tracker
}

func NewManager(factory func(sessionID string) *Tracker) *Manager {
	return &Manager{sessions: make(map[string]*Tracker), factory: factory}
}

// Open creates a session with a fresh tracker in the initial stage.
func (m *Manager) Open() *Tracker {
	id := uuid.NewString()
	t := m.factory(id)
	m.mu.Lock()
	m.sessions[id] = t
	m.mu.Unlock()
	observability.ActiveSessions.Inc()
	return t
}

func (m *Manager) Get(id string) (*Tracker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return t, nil
}

// Close tears down the session's tracker and forgets it.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	t, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	t.Close()
	observability.ActiveSessions.Dec()
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll tears down every session, used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Tracker)
	m.mu.Unlock()
	for _, t := range sessions {
		t.Close()
		observability.ActiveSessions.Dec()
	}
}
