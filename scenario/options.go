package scenario

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// ErrInvalidOptions is returned when run options are out of range.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrInvalidTargetURL is returned when the target URL is not an absolute http(s) URL.
	ErrInvalidTargetURL = errors.New("invalid target url")
)

const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultActionTimeout     = 10 * time.Second
	DefaultViewportWidth     = 1280
	DefaultViewportHeight    = 720
)

// Viewport is the browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Options configures one run.
type Options struct {
	Headless           bool              `json:"headless" yaml:"headless"`
	SlowMo             time.Duration     `json:"slow_mo,omitempty" yaml:"slow_mo,omitempty"`
	Viewport           Viewport          `json:"viewport" yaml:"viewport"`
	NavigationTimeout  time.Duration     `json:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout      time.Duration     `json:"action_timeout" yaml:"action_timeout"`
	WarmupDelay        time.Duration     `json:"warmup_delay,omitempty" yaml:"warmup_delay,omitempty"`
	LogConsole         bool              `json:"log_console" yaml:"log_console"`
	LogNetwork         bool              `json:"log_network" yaml:"log_network"`
	CaptureScreenshots bool              `json:"capture_screenshots" yaml:"capture_screenshots"`
	StrictActions      bool              `json:"strict_actions,omitempty" yaml:"strict_actions,omitempty"`
	Proxy              string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	ExtraHeaders       map[string]string `json:"extra_headers,omitempty" yaml:"extra_headers,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
}

// DefaultOptions returns headless options with default timeouts and viewport
// and post-action screenshots enabled.
func DefaultOptions() Options {
	return Options{
		Headless:           true,
		Viewport:           Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight},
		NavigationTimeout:  DefaultNavigationTimeout,
		ActionTimeout:      DefaultActionTimeout,
		CaptureScreenshots: true,
	}
}

// WithDefaults fills zero timeouts and viewport dimensions.
func (o Options) WithDefaults() Options {
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.ActionTimeout == 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.Viewport.Width == 0 {
		o.Viewport.Width = DefaultViewportWidth
	}
	if o.Viewport.Height == 0 {
		o.Viewport.Height = DefaultViewportHeight
	}
	if o.ExtraHeaders != nil {
		headers := make(map[string]string, len(o.ExtraHeaders))
		for k, v := range o.ExtraHeaders {
			headers[k] = v
		}
		o.ExtraHeaders = headers
	}
	return o
}

// Validate enforces that all timeouts are positive.
func (o Options) Validate() error {
	if o.NavigationTimeout <= 0 {
		return fmt.Errorf("%w: navigation timeout must be > 0, got %s", ErrInvalidOptions, o.NavigationTimeout)
	}
	if o.ActionTimeout <= 0 {
		return fmt.Errorf("%w: action timeout must be > 0, got %s", ErrInvalidOptions, o.ActionTimeout)
	}
	if o.SlowMo < 0 {
		return fmt.Errorf("%w: slow motion delay must not be negative", ErrInvalidOptions)
	}
	if o.WarmupDelay < 0 {
		return fmt.Errorf("%w: warm-up delay must not be negative", ErrInvalidOptions)
	}
	if o.Viewport.Width <= 0 || o.Viewport.Height <= 0 {
		return fmt.Errorf("%w: viewport %dx%d", ErrInvalidOptions, o.Viewport.Width, o.Viewport.Height)
	}
	if o.Proxy != "" {
		if _, err := url.Parse(o.Proxy); err != nil {
			return fmt.Errorf("%w: proxy: %v", ErrInvalidOptions, err)
		}
	}
	return nil
}

// ParseTargetURL checks that raw is an absolute http or https URL.
func ParseTargetURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidTargetURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTargetURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTargetURL)
	}
	return u, nil
}
