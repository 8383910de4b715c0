package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

var (
	// ErrSessionNotFound is returned when a session is not in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrResultRequired is returned when a session is moved to a terminal
	// status without a result, or to a non-terminal status with one.
	ErrResultRequired = errors.New("terminal status requires a result")

	// ErrOutcomeMismatch is returned when Finish is given a status other than
	// the one the session was settled on.
	ErrOutcomeMismatch = errors.New("status differs from settled outcome")
)

// Session is one scripted run. Its identity, target and script are fixed at
// creation; the mutable progress fields are written only by the session's
// executor and may be read by anyone.
type Session struct {
	ID        uuid.UUID
	Name      string
	TargetURL string
	Script    scenario.Script
	Options   scenario.Options
	CreatedAt time.Time

	// Events is the session's ordered event stream.
	Events *events.Stream

	mu             sync.RWMutex
	status         testrun.Status
	settled        testrun.Status
	progress       int
	currentAction  string
	actionIndex    int
	totalActions   int
	currentURL     string
	updatedAt      time.Time
	lastScreenshot []byte
	result         *testrun.Result
	cancel         context.CancelFunc
	cancelled      bool
	retiredAt      time.Time
}

// Snapshot is a point-in-time copy of a session's observable state.
type Snapshot struct {
	ID            uuid.UUID      `json:"session_id"`
	Name          string         `json:"name"`
	TargetURL     string         `json:"target_url"`
	Status        testrun.Status `json:"status"`
	Progress      int            `json:"progress"`
	CurrentAction string         `json:"current_action,omitempty"`
	ActionIndex   int            `json:"action_index"`
	TotalActions  int            `json:"total_actions"`
	CurrentURL    string         `json:"current_url,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdated   time.Time      `json:"last_updated"`
	HasScreenshot bool           `json:"has_screenshot"`
	HasResult     bool           `json:"has_result"`
	Retired       bool           `json:"retired"`
}

// Transition moves the session to a non-terminal status.
func (s *Session) Transition(next testrun.Status) error {
	if next.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrResultRequired, next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	status, err := s.status.Transition(next)
	if err != nil {
		return err
	}
	s.status = status
	s.updatedAt = time.Now()
	return nil
}

// Settle decides which terminal status the session will finish with. The
// first caller decides and gets true; later callers, and any caller once the
// session has finished, get the earlier decision and false.
func (s *Session) Settle(status testrun.Status) (testrun.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.IsTerminal() {
		return s.status, false
	}
	if s.settled != "" {
		return s.settled, false
	}
	if !status.IsTerminal() {
		return status, false
	}
	s.settled = status
	return status, true
}

// Finish moves the session to a terminal status and attaches its result in
// one step, so a result exists exactly when the status is terminal.
func (s *Session) Finish(status testrun.Status, result *testrun.Result) error {
	if !status.IsTerminal() || result == nil {
		return fmt.Errorf("%w: %s", ErrResultRequired, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled != "" && s.settled != status {
		return fmt.Errorf("%w: settled %s, got %s", ErrOutcomeMismatch, s.settled, status)
	}
	next, err := s.status.Transition(status)
	if err != nil {
		return err
	}
	s.status = next
	s.result = result.Clone()
	s.updatedAt = time.Now()
	if status == testrun.StatusCompleted {
		s.progress = 100
	}
	return nil
}

// SetProgress records the action being worked on.
func (s *Session) SetProgress(progress int, action string, index, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if progress > s.progress {
		s.progress = progress
	}
	s.currentAction = action
	s.actionIndex = index
	s.totalActions = total
	s.updatedAt = time.Now()
}

// SetURL records the page's current location.
func (s *Session) SetURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentURL = u
	s.updatedAt = time.Now()
}

// SetScreenshot records the most recent screenshot.
func (s *Session) SetScreenshot(png []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastScreenshot = append([]byte(nil), png...)
	s.updatedAt = time.Now()
}

// LastScreenshot returns a copy of the most recent screenshot, or nil.
func (s *Session) LastScreenshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastScreenshot == nil {
		return nil
	}
	return append([]byte(nil), s.lastScreenshot...)
}

// Result returns a copy of the terminal result, or nil while running.
func (s *Session) Result() *testrun.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result.Clone()
}

// cancelRequested reports whether Cancel or Retire was called.
func (s *Session) cancelRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// RetiredAt is when the session was retired, or the zero time.
func (s *Session) RetiredAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retiredAt
}

func (s *Session) requestCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancelled = true
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) retire(now time.Time) {
	s.requestCancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retiredAt.IsZero() {
		s.retiredAt = now
	}
}

// Snapshot copies the session's observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:            s.ID,
		Name:          s.Name,
		TargetURL:     s.TargetURL,
		Status:        s.status,
		Progress:      s.progress,
		CurrentAction: s.currentAction,
		ActionIndex:   s.actionIndex,
		TotalActions:  s.totalActions,
		CurrentURL:    s.currentURL,
		CreatedAt:     s.CreatedAt,
		LastUpdated:   s.updatedAt,
		HasScreenshot: s.lastScreenshot != nil,
		HasResult:     s.result != nil,
		Retired:       !s.retiredAt.IsZero(),
	}
}
