// Package bus decouples interactive session mutation from its observers.
// Producers publish lifecycle events without blocking the turn loop; slow or
// absent consumers cost dropped events, never latency.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/dotsession/pkg/session"
)

// EventKind identifies a session lifecycle transition.
type EventKind string

const (
	EventTurnAppended EventKind = "turn_appended"
	EventCheckpoint   EventKind = "checkpoint"
	EventRewind       EventKind = "rewind"
	EventFork         EventKind = "fork"
	EventCompress     EventKind = "compress"
)

// SessionEvent is one lifecycle notification. Snapshot, when set, is a
// detached copy of the session taken by the publishing goroutine at the
// moment of the transition; consumers persist or inspect it without ever
// touching the live session.
type SessionEvent struct {
	Kind      EventKind
	SessionID string
	Branch    string
	TurnCount int
	Detail    string
	Snapshot  *session.Snapshot
}

const publishTimeout = 100 * time.Millisecond

// EventBus is a bounded-buffer fan-in of session events.
type EventBus struct {
	events  chan SessionEvent
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		events: make(chan SessionEvent, 100),
	}
}

// Publish enqueues an event. When the buffer is full it waits briefly, then
// drops the event and bumps the drop counter rather than stalling the
// publisher.
func (b *EventBus) Publish(ev SessionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.events <- ev:
		case <-timer.C:
			b.dropped.Add(1)
		}
	}
}

// Consume blocks until an event arrives, the bus closes, or ctx is done.
func (b *EventBus) Consume(ctx context.Context) (SessionEvent, bool) {
	select {
	case ev, ok := <-b.events:
		if !ok {
			return SessionEvent{}, false
		}
		return ev, true
	case <-ctx.Done():
		return SessionEvent{}, false
	}
}

func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.events)
}

// Dropped returns the number of events discarded under backpressure.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}
