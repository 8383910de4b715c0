package scenario

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidAction is returned when an action fails structural validation.
var ErrInvalidAction = errors.New("invalid action")

// ActionType tags one scripted action.
type ActionType string

const (
	ActionNavigate        ActionType = "navigate"
	ActionScroll          ActionType = "scroll"
	ActionClick           ActionType = "click"
	ActionTypeText        ActionType = "type"
	ActionWaitForSelector ActionType = "waitForSelector"
	ActionWait            ActionType = "wait"
	ActionWaitForTimeout  ActionType = "waitForTimeout"
	ActionScreenshot      ActionType = "screenshot"
	ActionEvaluate        ActionType = "evaluate"
	ActionHover           ActionType = "hover"
	ActionSelectOption    ActionType = "selectOption"
	ActionSetValue        ActionType = "setValue"
)

// KnownActionTypes lists every supported tag in a stable order.
var KnownActionTypes = []ActionType{
	ActionNavigate,
	ActionScroll,
	ActionClick,
	ActionTypeText,
	ActionWaitForSelector,
	ActionWait,
	ActionWaitForTimeout,
	ActionScreenshot,
	ActionEvaluate,
	ActionHover,
	ActionSelectOption,
	ActionSetValue,
}

// IsKnown reports whether t is one of the supported tags.
func (t ActionType) IsKnown() bool {
	for _, k := range KnownActionTypes {
		if t == k {
			return true
		}
	}
	return false
}

// IsWait reports whether t is a fixed pause. Fixed pauses do not get the
// post-action delay applied on top.
func (t ActionType) IsWait() bool {
	return t == ActionWait || t == ActionWaitForTimeout
}

// NeedsSelector reports whether t targets an element.
func (t ActionType) NeedsSelector() bool {
	switch t {
	case ActionClick, ActionTypeText, ActionWaitForSelector, ActionHover, ActionSelectOption, ActionSetValue:
		return true
	default:
		return false
	}
}

// Action is one entry of an action script.
type Action struct {
	Type        ActionType    `json:"type" yaml:"type"`
	Selector    string        `json:"selector,omitempty" yaml:"selector,omitempty"`
	Value       string        `json:"value,omitempty" yaml:"value,omitempty"`
	Repeat      int           `json:"repeat,omitempty" yaml:"repeat,omitempty"`
	Delay       time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Times returns how many times the action runs. Anything below 1 means once.
func (a Action) Times() int {
	if a.Repeat < 1 {
		return 1
	}
	return a.Repeat
}

// WaitDuration returns the pause for wait actions and navigation warm-ups:
// Delay when set, otherwise Value read as milliseconds or a Go duration.
func (a Action) WaitDuration() (time.Duration, error) {
	if a.Delay > 0 {
		return a.Delay, nil
	}
	v := strings.TrimSpace(a.Value)
	if v == "" {
		return 0, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("%w: negative wait %dms", ErrInvalidAction, ms)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: wait value %q is neither milliseconds nor a duration", ErrInvalidAction, a.Value)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative wait %s", ErrInvalidAction, d)
	}
	return d, nil
}

// Describe returns a human readable label for progress updates.
func (a Action) Describe() string {
	if a.Description != "" {
		return a.Description
	}
	if a.Selector != "" {
		return fmt.Sprintf("%s %s", a.Type, a.Selector)
	}
	return string(a.Type)
}

// Script is the ordered list of actions a session performs. It is not
// modified once a session starts.
type Script []Action

// Split separates the leading navigate entries, which form the navigation
// warm-up, from the actions that are executed and counted.
func (s Script) Split() (warmup Script, actions Script) {
	i := 0
	for i < len(s) && s[i].Type == ActionNavigate {
		i++
	}
	return s[:i:i], s[i:]
}

// Clone returns a copy that shares no backing array with s.
func (s Script) Clone() Script {
	if s == nil {
		return nil
	}
	out := make(Script, len(s))
	copy(out, s)
	return out
}

// UnknownTypes returns the indexes of entries whose type is not supported.
// Such entries are not rejected up front; they fail individually at run time.
func (s Script) UnknownTypes() []int {
	var idx []int
	for i, a := range s {
		if !a.Type.IsKnown() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks structural shape only: repeat and delay are not negative.
func (s Script) Validate() error {
	for i, a := range s {
		if a.Repeat < 0 {
			return fmt.Errorf("%w: action %d has negative repeat %d", ErrInvalidAction, i, a.Repeat)
		}
		if a.Delay < 0 {
			return fmt.Errorf("%w: action %d has negative delay %s", ErrInvalidAction, i, a.Delay)
		}
	}
	return nil
}
