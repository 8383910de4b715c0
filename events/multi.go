package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// MultiSink forwards every call to each sink in turn. One failing sink does
// not stop delivery to the rest.
type MultiSink []Sink

func (m MultiSink) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) BroadcastState(ctx context.Context, sessionID uuid.UUID, update StateUpdate) error {
	return m.each(func(s Sink) error { return s.BroadcastState(ctx, sessionID, update) })
}

func (m MultiSink) BroadcastLog(ctx context.Context, sessionID uuid.UUID, entry LogEntry) error {
	return m.each(func(s Sink) error { return s.BroadcastLog(ctx, sessionID, entry) })
}

func (m MultiSink) BroadcastError(ctx context.Context, sessionID uuid.UUID, event ErrorEvent) error {
	return m.each(func(s Sink) error { return s.BroadcastError(ctx, sessionID, event) })
}

func (m MultiSink) BroadcastCompleted(ctx context.Context, sessionID uuid.UUID, completed Completed) error {
	return m.each(func(s Sink) error { return s.BroadcastCompleted(ctx, sessionID, completed) })
}
