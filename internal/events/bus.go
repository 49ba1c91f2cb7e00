// Package events fans dispatch snapshots out to sinks: the Kafka stream,
// the history store, the fleet index and connected browsers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ambulance-dispatch/internal/observability"
	"github.com/example/ambulance-dispatch/internal/tracking"
)

// Event is one published snapshot of a session's dispatch request.
type Event struct {
	SessionID string
	Snapshot  tracking.Snapshot
	At        time.Time
}

// Sink consumes events. Sinks are called from a single goroutine in publish
// order, so they may keep per-session state without locking.
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// Bus is a bounded asynchronous queue in front of a set of sinks. Publish
// never blocks; when the queue is full the event is dropped and counted.
type Bus struct {
	ch          chan Event
	sinks       []Sink
	logger      *slog.Logger
	sinkTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewBus(size int, logger *slog.Logger, sinks ...Sink) *Bus {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:          make(chan Event, size),
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (b *Bus) Start() {
	go b.run()
}

// Publish enqueues a snapshot. It reports false when the event was dropped.
func (b *Bus) Publish(s tracking.Snapshot) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- Event{SessionID: s.SessionID, Snapshot: s, At: s.UpdatedAt}:
		return true
	default:
		observability.EventsDroppedTotal.Inc()
		b.logger.Warn("event bus full, dropping snapshot", "session_id", s.SessionID, "stage", string(s.Stage))
		return false
	}
}

// Observer adapts the bus to a tracking.Observer.
func (b *Bus) Observer() tracking.Observer {
	return func(s tracking.Snapshot) { b.Publish(s) }
}

// Close stops accepting events and waits until queued ones are delivered
// or ctx expires.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) run() {
	defer close(b.done)
	for e := range b.ch {
		for _, s := range b.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), b.sinkTimeout)
			if err := s.Handle(ctx, e); err != nil {
				observability.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
				b.logger.Error("event sink failed", "sink", s.Name(), "session_id", e.SessionID, "error", err)
			}
			cancel()
		}
	}
}
