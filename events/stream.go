package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// Stream is the single writer of one session's events. It numbers events,
// serialises delivery to the sink, and refuses anything after Completed.
// Once a StateUpdate with a terminal status has gone out no further
// StateUpdates are sent, so subscribers never see a session leave a
// terminal status.
type Stream struct {
	mu        sync.Mutex
	sessionID uuid.UUID
	sink      Sink
	logger    logger.Logger
	now       func() time.Time
	seq       uint64
	last      time.Time
	settled   bool
	done      bool
}

// NewStream returns a Stream for sessionID. Sink errors are logged to log.
func NewStream(sessionID uuid.UUID, sink Sink, log logger.Logger) *Stream {
	if sink == nil {
		sink = Discard
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Stream{
		sessionID: sessionID,
		sink:      sink,
		logger:    log,
		now:       time.Now,
	}
}

// next must be called with mu held. Timestamps never go backwards within a
// stream even if the wall clock does.
func (s *Stream) next() (uint64, time.Time) {
	s.seq++
	ts := s.now()
	if ts.Before(s.last) {
		ts = s.last
	}
	s.last = ts
	return s.seq, ts
}

// State emits a StateUpdate. It reports false if the stream is finished or
// a terminal StateUpdate was already emitted.
func (s *Stream) State(ctx context.Context, update StateUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.settled {
		return false
	}
	s.settled = update.Status.IsTerminal()
	update.Seq, update.Timestamp = s.next()
	s.report(ctx, "state", s.sink.BroadcastState(ctx, s.sessionID, update))
	return true
}

// Log emits a LogEntry. It reports false if the stream is finished.
func (s *Stream) Log(ctx context.Context, level Level, category, message string, details map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	entry := LogEntry{Level: level, Category: category, Message: message, Details: details}
	entry.Seq, entry.Timestamp = s.next()
	s.report(ctx, "log", s.sink.BroadcastLog(ctx, s.sessionID, entry))
	return true
}

// Error emits an ErrorEvent. It reports false if the stream is finished.
func (s *Stream) Error(ctx context.Context, code, message string, details map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	ev := ErrorEvent{Code: code, Message: message, Details: details}
	ev.Seq, ev.Timestamp = s.next()
	s.report(ctx, "error", s.sink.BroadcastError(ctx, s.sessionID, ev))
	return true
}

// Complete emits the terminal event and closes the stream. Only the first
// call has any effect.
func (s *Stream) Complete(ctx context.Context, result *testrun.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	c := Completed{Result: result}
	c.Seq, c.Timestamp = s.next()
	s.report(ctx, "completed", s.sink.BroadcastCompleted(ctx, s.sessionID, c))
	return true
}

// finished reports whether Complete has been called.
func (s *Stream) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Stream) report(ctx context.Context, kind string, err error) {
	if err == nil {
		return
	}
	s.logger.Warn(ctx, "event delivery failed", map[string]interface{}{
		"session_id": s.sessionID.String(),
		"kind":       kind,
		"error":      err.Error(),
	})
}
