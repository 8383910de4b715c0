package testrun

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Builder accumulates the pieces of a Result while a session runs. It is safe
// for concurrent use because browser observers report from their own
// goroutines.
type Builder struct {
	mu          sync.Mutex
	sessionID   uuid.UUID
	startedAt   time.Time
	executed    int
	screenshots []Screenshot
	errors      []StructuredError
	metrics     Metrics
	built       *Result
}

// NewBuilder starts accumulating a result for the given session.
func NewBuilder(sessionID uuid.UUID, startedAt time.Time) *Builder {
	return &Builder{sessionID: sessionID, startedAt: startedAt}
}

// ActionExecuted counts one processed action, successful or not.
func (b *Builder) ActionExecuted() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executed++
}

// ActionFailed counts one failed action.
func (b *Builder) ActionFailed() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.FailedActions++
}

// AddScreenshot records a screenshot for the result.
func (b *Builder) AddScreenshot(s Screenshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.screenshots = append(b.screenshots, s)
}

// AddError records a structured error.
func (b *Builder) AddError(code, message string, details map[string]interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, StructuredError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	})
}

// HasErrors reports whether any structured error has been recorded.
func (b *Builder) HasErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.errors) > 0
}

// AddNavigationTime adds to the navigation timer.
func (b *Builder) AddNavigationTime(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.NavigationTime += d
}

// AddActionTime adds to the action timer.
func (b *Builder) AddActionTime(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.ActionTime += d
}

// CountRequest, CountResponse and CountFailedRequest update resource counts.
func (b *Builder) CountRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Resources.Requests++
}

func (b *Builder) CountResponse() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Resources.Responses++
}

func (b *Builder) CountFailedRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Resources.FailedRequests++
}

// Build creates the Result for a terminal status. It succeeds exactly once;
// later calls return the first result and an error.
func (b *Builder) Build(status Status, success bool, completedAt time.Time) (*Result, error) {
	if !status.IsTerminal() {
		return nil, fmt.Errorf("%w: result requires a terminal status, got %s", ErrInvalidStatus, status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.built != nil {
		return b.built, fmt.Errorf("result for session %s already built", b.sessionID)
	}

	r := &Result{
		SessionID:       b.sessionID,
		Status:          status,
		Success:         success,
		StartedAt:       b.startedAt,
		CompletedAt:     completedAt,
		Duration:        completedAt.Sub(b.startedAt),
		ActionsExecuted: b.executed,
		Screenshots:     append([]Screenshot{}, b.screenshots...),
		Errors:          append([]StructuredError{}, b.errors...),
		Metrics:         b.metrics,
	}
	b.built = r
	return r, nil
}
