package events

import (
	"context"
	"log/slog"
	"sync"

	"threadline/internal/observability"
)

// Sink accepts events without blocking. Publish returns false when the event
// was not accepted.
type Sink interface {
	Publish(ev Event) bool
}

// Emitter hands committed events to every registered sink.
type Emitter struct {
	sinks []Sink
}

// NewEmitter returns an Emitter over sinks.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks}
}

// Emit publishes ev. Rejections are logged and counted; they never fail the caller.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil || ev == nil {
		return
	}
	observability.EventsEmitted.WithLabelValues(string(ev.Kind())).Inc()
	for _, s := range e.sinks {
		if s.Publish(ev) {
			continue
		}
		observability.EventsDropped.WithLabelValues("sink_rejected").Inc()
		observability.Logger.WarnContext(ctx, "event dropped by sink",
			slog.String("event_id", ev.ID()),
			slog.String("kind", string(ev.Kind())),
			slog.Uint64("comment_id", uint64(ev.Subject().ID)),
		)
	}
}

// Recorder is an in-memory Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Sink.
func (r *Recorder) Publish(ev Event) bool {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return true
}

// Events returns a copy of the recorded events in arrival order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
