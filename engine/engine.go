// Package engine defines the browser automation capability a test session
// drives, and a Chrome DevTools implementation of it.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTimeout is returned when an engine operation exceeds its configured
	// navigation or action timeout.
	ErrTimeout = errors.New("engine operation timed out")

	// ErrClosed is returned when operating on a closed page or browser.
	ErrClosed = errors.New("engine resource closed")
)

// Engine opens browser contexts.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one isolated browser context. It is owned by a single session.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page performs primitive operations on one tab. Navigation and element
// operations enforce the timeouts given in LaunchOptions and report
// exceeding them with an error matching ErrTimeout.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	WaitForSelector(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, script string, result interface{}) error
	Hover(ctx context.Context, selector string) error
	SelectOption(ctx context.Context, selector, value string) error
	SetValue(ctx context.Context, selector, value string) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// Observer receives browser-side notifications. Calls arrive on engine
// goroutines and must not block.
type Observer interface {
	OnConsole(level, text string)
	OnRequest(method, url, resourceType string)
	OnResponse(url string, status int)
	OnRequestFailed(requestID, reason string)
}

// Viewport is the page size in CSS pixels.
type Viewport struct {
	Width  int
	Height int
}

// LaunchOptions configures a browser context and its pages.
type LaunchOptions struct {
	Headless          bool
	SlowMo            time.Duration
	Viewport          Viewport
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	Proxy             string
	ExtraHeaders      map[string]string
	UserAgent         string
	Observer          Observer
}

// IsTimeout classifies err as a timeout: ErrTimeout, a context deadline, or
// an error whose text says it timed out.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out")
}
