package testrun

import (
	"time"

	"github.com/google/uuid"
)

// Structured error codes recorded in Result.Errors.
const (
	CodeAcquisitionError = "ACQUISITION_ERROR"
	CodeExecutionError   = "EXECUTION_ERROR"
	CodeActionError      = "ACTION_ERROR"
)

// FinalScreenshotIndex tags the screenshot taken when a session finishes.
const FinalScreenshotIndex = -1

// Screenshot is one captured PNG, tagged with the index of the action that
// produced it or FinalScreenshotIndex.
type Screenshot struct {
	ActionIndex int       `json:"action_index"`
	Data        []byte    `json:"data,omitempty"`
	Path        string    `json:"path,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
}

// StructuredError is a machine readable failure attached to a result.
type StructuredError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ResourceCounts tallies network activity seen by the page.
type ResourceCounts struct {
	Requests       int `json:"requests"`
	Responses      int `json:"responses"`
	FailedRequests int `json:"failed_requests"`
}

// Metrics are execution timings and counters for one session.
type Metrics struct {
	NavigationTime time.Duration  `json:"navigation_time"`
	ActionTime     time.Duration  `json:"action_time"`
	FailedActions  int            `json:"failed_actions"`
	Resources      ResourceCounts `json:"resources"`
}

// Result is the terminal artifact of a session. It is created once, when the
// session finishes, and never modified afterwards; accessors hand out copies.
type Result struct {
	SessionID       uuid.UUID         `json:"session_id"`
	Status          Status            `json:"status"`
	Success         bool              `json:"success"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	Duration        time.Duration     `json:"duration"`
	ActionsExecuted int               `json:"actions_executed"`
	Screenshots     []Screenshot      `json:"screenshots"`
	Errors          []StructuredError `json:"errors"`
	Metrics         Metrics           `json:"metrics"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Screenshots = make([]Screenshot, len(r.Screenshots))
	for i, s := range r.Screenshots {
		s.Data = append([]byte(nil), s.Data...)
		out.Screenshots[i] = s
	}
	out.Errors = make([]StructuredError, len(r.Errors))
	for i, e := range r.Errors {
		if e.Details != nil {
			details := make(map[string]interface{}, len(e.Details))
			for k, v := range e.Details {
				details[k] = v
			}
			e.Details = details
		}
		out.Errors[i] = e
	}
	return &out
}

// FinalScreenshot returns the screenshot tagged FinalScreenshotIndex.
func (r *Result) FinalScreenshot() (Screenshot, bool) {
	for _, s := range r.Screenshots {
		if s.ActionIndex == FinalScreenshotIndex {
			return s, true
		}
	}
	return Screenshot{}, false
}
