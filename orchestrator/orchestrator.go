// Package orchestrator runs scripted browser test sessions. Start admits a
// session and runs it on its own goroutine; the other operations observe or
// stop sessions by id.
package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/session"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrentSessions bounds sessions holding a browser at once. Extra
	// sessions wait in initializing. Zero means no bound.
	MaxConcurrentSessions int
	// WarmupDelay is used for requests that do not set Options.WarmupDelay.
	WarmupDelay time.Duration
	// CleanupInterval, when positive, runs registry cleanup of retired
	// sessions at that interval until Shutdown.
	CleanupInterval time.Duration
	// Limits bounds request size. Zero fields use scenario.DefaultLimits.
	Limits scenario.Limits
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = log
	}
}

// WithScreenshotStore persists screenshots to store.
func WithScreenshotStore(store *storage.ScreenshotStore) Option {
	return func(o *Orchestrator) {
		o.shots = store
	}
}

// StartRequest asks for a new session.
type StartRequest struct {
	TargetURL   string           `json:"target_url" yaml:"target_url"`
	Script      scenario.Script  `json:"actions" yaml:"actions"`
	Options     scenario.Options `json:"options" yaml:"options"`
	SessionName string           `json:"session_name,omitempty" yaml:"session_name,omitempty"`
}

// Handle identifies a started session and where to watch it.
type Handle struct {
	SessionID uuid.UUID      `json:"session_id"`
	Channel   string         `json:"channel"`
	Status    testrun.Status `json:"status"`
}

// Orchestrator is the entry point for running and observing sessions.
type Orchestrator struct {
	cfg      Config
	engine   engine.Engine
	sink     events.Sink
	registry *session.Registry
	shots    *storage.ScreenshotStore
	logger   logger.Logger
	executor *Executor

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates an Orchestrator that runs sessions on eng, reports them to sink
// and tracks them in reg.
func New(cfg Config, eng engine.Engine, sink events.Sink, reg *session.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		engine:   eng,
		sink:     sink,
		registry: reg,
		logger:   logger.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.sink == nil {
		o.sink = events.Discard
	}

	o.executor = NewExecutor(eng, o.shots, cfg.MaxConcurrentSessions, o.logger)
	o.baseCtx, o.cancelAll = context.WithCancel(context.Background())
	if cfg.CleanupInterval > 0 {
		reg.StartCleanup(cfg.CleanupInterval)
	}
	return o
}

// Start registers a session and runs it in the background. It returns as
// soon as the session exists.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Handle, error) {
	target, err := scenario.ParseTargetURL(req.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	opts := req.Options.WithDefaults()
	if opts.WarmupDelay == 0 {
		opts.WarmupDelay = o.cfg.WarmupDelay
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := req.Script.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	name := scenario.SanitizeName(req.SessionName)
	if name == "" {
		name = target.Host
	}
	if err := o.cfg.Limits.Check(name, req.Script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrShuttingDown
	}

	sess, runCtx := o.registry.Create(o.baseCtx, session.NewSession{
		Name:      name,
		TargetURL: target.String(),
		Script:    req.Script,
		Options:   opts,
		Sink:      o.sink,
	})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.executor.Run(runCtx, sess)
		if err := o.registry.Retire(sess.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			o.logger.Warn(context.Background(), "failed to retire session", map[string]interface{}{
				"session_id": sess.ID.String(),
				"error":      err.Error(),
			})
		}
	}()

	recordSessionStarted()
	o.logger.Info(ctx, "session started", map[string]interface{}{
		"session_id": sess.ID.String(),
		"name":       name,
		"actions":    len(req.Script),
	})

	return &Handle{
		SessionID: sess.ID,
		Channel:   events.ChannelFor(sess.ID),
		Status:    testrun.StatusInitializing,
	}, nil
}

// Stop cancels a session, retires it and returns its result if one exists.
// The result is nil when the session has not finished yet; it will reach
// cancelled and can be read with GetResult. A session whose outcome was
// settled before the stop keeps that outcome.
func (o *Orchestrator) Stop(ctx context.Context, id uuid.UUID) (*testrun.Result, error) {
	sess, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if err := o.registry.Cancel(id); err != nil {
		return nil, err
	}

	if _, won := sess.Settle(testrun.StatusCancelled); won {
		snap := sess.Snapshot()
		sess.Events.State(ctx, events.StateUpdate{
			URL:           snap.CurrentURL,
			CurrentAction: "cancelling",
			ActionIndex:   snap.ActionIndex,
			TotalActions:  snap.TotalActions,
			Status:        testrun.StatusCancelled,
			Progress:      snap.Progress,
		})
	}

	if err := o.registry.Retire(id); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}

	o.logger.Info(ctx, "session stopped", map[string]interface{}{
		"session_id": id.String(),
	})
	return sess.Result(), nil
}

// GetStatus returns a snapshot of the session.
func (o *Orchestrator) GetStatus(id uuid.UUID) (*session.Snapshot, error) {
	sess, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	snap := sess.Snapshot()
	return &snap, nil
}

// GetResult returns the terminal result, or ErrResultNotAvailable while the
// session is still running.
func (o *Orchestrator) GetResult(id uuid.UUID) (*testrun.Result, error) {
	sess, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	res := sess.Result()
	if res == nil {
		return nil, ErrResultNotAvailable
	}
	return res, nil
}

// GetScreenshot returns the latest screenshot as base64 encoded PNG.
func (o *Orchestrator) GetScreenshot(id uuid.UUID) (string, error) {
	sess, err := o.registry.Get(id)
	if err != nil {
		return "", err
	}
	png := sess.LastScreenshot()
	if png == nil {
		return "", ErrScreenshotNotAvailable
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

// ListActive returns sessions that have not reached a terminal status.
func (o *Orchestrator) ListActive() []session.Snapshot {
	return o.registry.ListActive()
}

// Shutdown refuses new sessions, cancels running ones and waits for their
// goroutines to exit or ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancelAll()
	o.registry.StopCleanup()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions to stop: %w", ctx.Err())
	}

	o.logger.Info(ctx, "orchestrator shut down", map[string]interface{}{
		"sessions_retained": o.registry.Len(),
	})
	return nil
}
