package testrun

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatus is returned when a status value is not recognised.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrInvalidTransition is returned when a status change would move
	// backwards or leave a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a test session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusNavigating   Status = "navigating"
	StatusExecuting    Status = "executing"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

// rank orders the non-terminal states; terminal states share the top rank.
func (s Status) rank() int {
	switch s {
	case StatusInitializing:
		return 0
	case StatusNavigating:
		return 1
	case StatusExecuting:
		return 2
	case StatusCompleted, StatusError, StatusCancelled:
		return 3
	default:
		return -1
	}
}

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	return s.rank() >= 0
}

// IsTerminal reports whether no further transitions may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// CanTransitionTo reports whether moving from s to next is allowed:
// initializing -> navigating -> executing, and any non-terminal state to a
// terminal one.
func (s Status) CanTransitionTo(next Status) bool {
	if !s.IsValid() || !next.IsValid() || s.IsTerminal() {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	return next.rank() == s.rank()+1
}

// Transition returns next if the move is allowed.
func (s Status) Transition(next Status) (Status, error) {
	if !next.IsValid() {
		return s, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	if !s.CanTransitionTo(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}
