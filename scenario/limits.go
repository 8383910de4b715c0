package scenario

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrNameTooLong is returned when a session name exceeds the maximum length.
	ErrNameTooLong = errors.New("name exceeds maximum length")

	// ErrTooManyActions is returned when a script has more entries than allowed.
	ErrTooManyActions = errors.New("too many actions")

	// ErrValueTooLong is returned when an action's value exceeds the maximum length.
	ErrValueTooLong = errors.New("action value exceeds maximum length")
)

// Limits bounds the size of a request before a session is created for it.
type Limits struct {
	MaxNameLength  int
	MaxActions     int
	MaxValueLength int
}

// DefaultLimits returns the default request limits.
func DefaultLimits() Limits {
	return Limits{
		MaxNameLength:  255,
		MaxActions:     200,
		MaxValueLength: 50000,
	}
}

// withDefaults fills zero limits from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxNameLength <= 0 {
		l.MaxNameLength = d.MaxNameLength
	}
	if l.MaxActions <= 0 {
		l.MaxActions = d.MaxActions
	}
	if l.MaxValueLength <= 0 {
		l.MaxValueLength = d.MaxValueLength
	}
	return l
}

// Check enforces l on a session name and its script. Zero fields use the
// defaults.
func (l Limits) Check(name string, s Script) error {
	l = l.withDefaults()

	if len(name) > l.MaxNameLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrNameTooLong, len(name), l.MaxNameLength)
	}
	if len(s) > l.MaxActions {
		return fmt.Errorf("%w: %d actions (max %d)", ErrTooManyActions, len(s), l.MaxActions)
	}
	for i, a := range s {
		if len(a.Value) > l.MaxValueLength {
			return fmt.Errorf("%w: action %d has %d characters (max %d)", ErrValueTooLong, i, len(a.Value), l.MaxValueLength)
		}
	}
	return nil
}

var whitespace = regexp.MustCompile(`\s+`)

// SanitizeName strips control and non-printable characters from a session
// name and collapses runs of whitespace, so names are safe to log and print.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r) || !unicode.IsPrint(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(whitespace.ReplaceAllString(b.String(), " "))
}
