package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/tracking"
)

const writeWait = 5 * time.Second

// WSSession is one browser connection following a dispatch session.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(snap tracking.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(snap)
}

func (s *WSSession) Close() error { return s.conn.Close() }

// WSRegistry holds the browser connections of every dispatch session and
// pushes each published snapshot to them.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

func (r *WSRegistry) Add(sessionID string, conn *websocket.Conn) *WSSession {
	ws := &WSSession{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[*WSSession]struct{})
	}
	r.sessions[sessionID][ws] = struct{}{}
	return ws
}

func (r *WSRegistry) Remove(sessionID string, ws *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.sessions[sessionID]
	if _, ok := conns[ws]; !ok {
		return
	}
	delete(conns, ws)
	if len(conns) == 0 {
		delete(r.sessions, sessionID)
	}
	_ = ws.Close()
}

// Count returns the number of connections following sessionID.
func (r *WSRegistry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[sessionID])
}

// Broadcast sends snap to every connection of its session and drops the
// connections that fail.
func (r *WSRegistry) Broadcast(snap tracking.Snapshot) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[snap.SessionID]))
	for ws := range r.sessions[snap.SessionID] {
		targets = append(targets, ws)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}
	for _, ws := range targets {
		if err := ws.Send(snap); err != nil {
			r.logger.Warn("ws send error", "session_id", snap.SessionID, "error", err)
			r.Remove(snap.SessionID, ws)
		}
	}
	return nil
}

func (r *WSRegistry) Name() string { return "websocket" }

// Handle implements events.Sink. Sessions nobody is watching are skipped.
func (r *WSRegistry) Handle(_ context.Context, e events.Event) error {
	if err := r.Broadcast(e.Snapshot); err != nil && err != ErrNoSession {
		return err
	}
	return nil
}

// CloseAll disconnects every browser, used on shutdown.
func (r *WSRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conns := range r.sessions {
		for ws := range conns {
			_ = ws.Close()
		}
		delete(r.sessions, id)
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
