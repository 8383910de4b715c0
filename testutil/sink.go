package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/events"
)

// RecordingSink is an events.Sink that keeps every event it receives.
type RecordingSink struct {
	mu     sync.Mutex
	events []events.Event
	done   map[uuid.UUID]chan struct{}
}

// NewRecordingSink returns an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{done: make(map[uuid.UUID]chan struct{})}
}

func (r *RecordingSink) doneCh(id uuid.UUID) chan struct{} {
	ch, ok := r.done[id]
	if !ok {
		ch = make(chan struct{})
		r.done[id] = ch
	}
	return ch
}

func (r *RecordingSink) add(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ev.Kind == events.KindCompleted {
		close(r.doneCh(ev.SessionID))
	}
}

// Done is closed when the session's Completed event arrives.
func (r *RecordingSink) Done(id uuid.UUID) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneCh(id)
}

// Events returns the events recorded for a session, in arrival order.
func (r *RecordingSink) Events(id uuid.UUID) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, ev := range r.events {
		if ev.SessionID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Logs returns the session's log entries.
func (r *RecordingSink) Logs(id uuid.UUID) []events.LogEntry {
	var out []events.LogEntry
	for _, ev := range r.Events(id) {
		if ev.Log != nil {
			out = append(out, *ev.Log)
		}
	}
	return out
}

// States returns the session's state updates.
func (r *RecordingSink) States(id uuid.UUID) []events.StateUpdate {
	var out []events.StateUpdate
	for _, ev := range r.Events(id) {
		if ev.State != nil {
			out = append(out, *ev.State)
		}
	}
	return out
}

func (r *RecordingSink) BroadcastState(_ context.Context, id uuid.UUID, u events.StateUpdate) error {
	r.add(events.Event{Kind: events.KindState, SessionID: id, Seq: u.Seq, Timestamp: u.Timestamp, State: &u})
	return nil
}

func (r *RecordingSink) BroadcastLog(_ context.Context, id uuid.UUID, e events.LogEntry) error {
	r.add(events.Event{Kind: events.KindLog, SessionID: id, Seq: e.Seq, Timestamp: e.Timestamp, Log: &e})
	return nil
}

func (r *RecordingSink) BroadcastError(_ context.Context, id uuid.UUID, e events.ErrorEvent) error {
	r.add(events.Event{Kind: events.KindError, SessionID: id, Seq: e.Seq, Timestamp: e.Timestamp, Error: &e})
	return nil
}

func (r *RecordingSink) BroadcastCompleted(_ context.Context, id uuid.UUID, c events.Completed) error {
	r.add(events.Event{Kind: events.KindCompleted, SessionID: id, Seq: c.Seq, Timestamp: c.Timestamp, Result: c.Result})
	return nil
}
