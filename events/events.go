// Package events carries live session updates from the orchestrator to
// observers. A Sink receives the four kinds of update for a session in the
// order they were issued; Stream assigns that order.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// SubjectPrefix prefixes every per-session channel name.
const SubjectPrefix = "ui-orchestrator.session"

// ChannelFor returns the channel observers subscribe to for a session.
func ChannelFor(sessionID uuid.UUID) string {
	return SubjectPrefix + "." + sessionID.String()
}

type Kind string

const (
	KindState     Kind = "state"
	KindLog       Kind = "log"
	KindError     Kind = "error"
	KindCompleted Kind = "completed"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Log categories.
const (
	CategorySession = "session"
	CategoryAction  = "action"
	CategoryConsole = "console"
	CategoryNetwork = "network"
)

// StateUpdate reports where a session is in its lifecycle.
type StateUpdate struct {
	Seq           uint64         `json:"seq"`
	URL           string         `json:"url,omitempty"`
	CurrentAction string         `json:"current_action,omitempty"`
	ActionIndex   int            `json:"action_index"`
	TotalActions  int            `json:"total_actions"`
	Status        testrun.Status `json:"status"`
	Progress      int            `json:"progress"`
	Screenshot    []byte         `json:"screenshot,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// LogEntry is one line of the session log.
type LogEntry struct {
	Seq       uint64                 `json:"seq"`
	Level     Level                  `json:"level"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrorEvent reports a fault that ends the session.
type ErrorEvent struct {
	Seq       uint64                 `json:"seq"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Completed carries the terminal result. It is always the last event of a
// session.
type Completed struct {
	Seq       uint64          `json:"seq"`
	Result    *testrun.Result `json:"result"`
	Timestamp time.Time       `json:"timestamp"`
}

// Event is the envelope observers receive. Exactly one payload is set,
// matching Kind.
type Event struct {
	Kind      Kind            `json:"kind"`
	SessionID uuid.UUID       `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	State     *StateUpdate    `json:"state,omitempty"`
	Log       *LogEntry       `json:"log,omitempty"`
	Error     *ErrorEvent     `json:"error,omitempty"`
	Result    *testrun.Result `json:"result,omitempty"`
}

// Sink delivers session events to observers. Calls for one session arrive in
// the order they must be observed; an implementation must preserve it and
// must not block for long. A returned error is reported but never stops the
// session.
type Sink interface {
	BroadcastState(ctx context.Context, sessionID uuid.UUID, update StateUpdate) error
	BroadcastLog(ctx context.Context, sessionID uuid.UUID, entry LogEntry) error
	BroadcastError(ctx context.Context, sessionID uuid.UUID, event ErrorEvent) error
	BroadcastCompleted(ctx context.Context, sessionID uuid.UUID, completed Completed) error
}

func stateEvent(id uuid.UUID, u StateUpdate) Event {
	return Event{Kind: KindState, SessionID: id, Seq: u.Seq, Timestamp: u.Timestamp, State: &u}
}

func logEvent(id uuid.UUID, e LogEntry) Event {
	return Event{Kind: KindLog, SessionID: id, Seq: e.Seq, Timestamp: e.Timestamp, Log: &e}
}

func errorEvent(id uuid.UUID, e ErrorEvent) Event {
	return Event{Kind: KindError, SessionID: id, Seq: e.Seq, Timestamp: e.Timestamp, Error: &e}
}

func completedEvent(id uuid.UUID, c Completed) Event {
	return Event{Kind: KindCompleted, SessionID: id, Seq: c.Seq, Timestamp: c.Timestamp, Result: c.Result}
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) BroadcastState(context.Context, uuid.UUID, StateUpdate) error   { return nil }
func (discard) BroadcastLog(context.Context, uuid.UUID, LogEntry) error        { return nil }
func (discard) BroadcastError(context.Context, uuid.UUID, ErrorEvent) error    { return nil }
func (discard) BroadcastCompleted(context.Context, uuid.UUID, Completed) error { return nil }
