package uuidutil

import (
	"fmt"

	"github.com/google/uuid"
)

// NewSessionID returns a fresh random (v4) id for a test session.
// Session ids are always generated, never caller-supplied.
func NewSessionID() uuid.UUID {
	return uuid.New()
}

// ParseSessionID parses a session id string, rejecting the nil UUID.
func ParseSessionID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q: %w", s, err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("invalid session id %q: nil uuid", s)
	}
	return id, nil
}

// Short returns the first eight hex characters of id, used for log-friendly
// names and generated storage keys.
func Short(id uuid.UUID) string {
	return id.String()[:8]
}
