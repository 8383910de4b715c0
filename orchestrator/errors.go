package orchestrator

import (
	"errors"

	"github.com/hairizuan-noorazman/ui-orchestrator/session"
)

var (
	// ErrUnsupportedAction is returned for an action type the executor does
	// not know.
	ErrUnsupportedAction = errors.New("unsupported action type")

	// ErrInvalidRequest is returned by Start for a structurally invalid request.
	ErrInvalidRequest = errors.New("invalid start request")

	// ErrResultNotAvailable is returned while a session has no result yet.
	ErrResultNotAvailable = errors.New("result not available")

	// ErrScreenshotNotAvailable is returned before any screenshot was taken.
	ErrScreenshotNotAvailable = errors.New("screenshot not available")

	// ErrShuttingDown is returned by Start once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = session.ErrSessionNotFound
)
