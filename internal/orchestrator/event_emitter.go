package orchestrator

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// EventEmitter delivers events on a bounded channel. Emit never blocks: when
// the buffer is full the oldest buffered event is discarded to make room.
type EventEmitter struct {
	mu      sync.Mutex
	events  chan Event
	closed  bool
	seq     uint64
	dropped atomic.Uint64

	logger *slog.Logger
	// onDrop is called for every discarded event.
	onDrop func()
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int, logger *slog.Logger, onDrop func()) *EventEmitter {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{
		events: make(chan Event, bufferSize),
		logger: logger,
		onDrop: onDrop,
	}
}

// Emit numbers the event and enqueues it, dropping the oldest event if the
// subscriber has fallen behind. Emitting after Close is a no-op.
func (e *EventEmitter) Emit(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.seq++
	event.Seq = e.seq
	for {
		select {
		case e.events <- event:
			return
		default:
		}

		select {
		case old := <-e.events:
			count := e.dropped.Add(1)
			if e.onDrop != nil {
				e.onDrop()
			}
			if count%10 == 1 {
				e.logger.Warn("event subscriber lagging, dropped oldest event",
					"dropped_total", count, "dropped_type", string(old.Type), "dropped_seq", old.Seq)
			}
		default:
			// The subscriber drained the buffer in between; retry the send.
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Events returns a read-only channel of events. It is closed after the
// run_finished event.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Buffered events remain readable.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}
