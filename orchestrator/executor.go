package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/session"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// Progress milestones reported in state updates.
const (
	progressNavigated = 20
	progressActions   = 70
	progressDone      = 100
)

// Executor drives sessions from admission to teardown.
type Executor struct {
	engine engine.Engine
	shots  *storage.ScreenshotStore
	sem    *semaphore.Weighted
	logger logger.Logger
}

// NewExecutor creates an Executor. maxConcurrent bounds how many sessions
// hold a browser at once; zero or less means no bound.
func NewExecutor(eng engine.Engine, shots *storage.ScreenshotStore, maxConcurrent int, log logger.Logger) *Executor {
	e := &Executor{
		engine: eng,
		shots:  shots,
		logger: log,
	}
	if maxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(int64(maxConcurrent))
	}
	return e
}

// run is the state of one session while it executes.
type run struct {
	*Executor
	sess    *session.Session
	log     logger.Logger
	stream  *events.Stream
	builder *testrun.Builder
	opts    scenario.Options
	warmup  scenario.Script
	actions scenario.Script
	phase   testrun.Status

	browser engine.Browser
	page    engine.Page
}

// Run drives sess to a terminal status. Whatever happens, the session gets a
// result, its stream ends with Completed, and any browser resources opened
// for it are closed.
func (e *Executor) Run(ctx context.Context, sess *session.Session) *testrun.Result {
	ctx, span := tracer().Start(ctx, "session", trace.WithAttributes(
		attribute.String("session.id", sess.ID.String()),
		attribute.String("session.target_url", sess.TargetURL),
	))
	defer span.End()

	warmup, actions := sess.Script.Split()
	r := &run{
		Executor: e,
		sess:     sess,
		log:      e.logger.WithField("session_id", sess.ID.String()),
		stream:   sess.Events,
		builder:  testrun.NewBuilder(sess.ID, time.Now()),
		opts:     sess.Options,
		warmup:   warmup,
		actions:  actions,
		phase:    testrun.StatusInitializing,
	}

	status, success := r.execute(ctx)
	res := r.finish(ctx, status, success)
	span.SetAttributes(
		attribute.String("session.status", string(res.Status)),
		attribute.Int("session.actions_executed", res.ActionsExecuted),
	)
	return res
}

func (r *run) execute(ctx context.Context) (status testrun.Status, success bool) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "session panicked", map[string]interface{}{
				"panic": fmt.Sprint(p),
				"phase": string(r.phase),
				"stack": string(debug.Stack()),
			})
			r.fault(ctx, testrun.CodeExecutionError, fmt.Sprintf("session panicked: %v", p), map[string]interface{}{
				"phase": string(r.phase),
				"panic": fmt.Sprint(p),
			})
			status, success = testrun.StatusError, false
		}
	}()

	r.state(ctx, testrun.StatusInitializing, 0, "initializing")

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return r.cancelled(ctx)
		}
		defer r.sem.Release(1)
	}
	metricSessionsRunning.Inc()
	defer metricSessionsRunning.Dec()
	defer r.teardown(ctx)

	if err := r.acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		r.fault(ctx, testrun.CodeAcquisitionError, fmt.Sprintf("failed to acquire browser: %v", err), map[string]interface{}{
			"error":   err.Error(),
			"timeout": engine.IsTimeout(err),
		})
		return testrun.StatusError, false
	}
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	if err := r.navigate(ctx); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		r.fault(ctx, testrun.CodeExecutionError, fmt.Sprintf("navigation failed: %v", err), map[string]interface{}{
			"phase":   string(r.phase),
			"url":     r.sess.TargetURL,
			"error":   err.Error(),
			"timeout": engine.IsTimeout(err),
		})
		return testrun.StatusError, false
	}

	if err := r.executeActions(ctx); err != nil {
		if ctx.Err() != nil {
			return r.cancelled(ctx)
		}
		r.fault(ctx, testrun.CodeExecutionError, fmt.Sprintf("execution failed: %v", err), map[string]interface{}{
			"phase": string(r.phase),
			"error": err.Error(),
		})
		return testrun.StatusError, false
	}
	if ctx.Err() != nil {
		return r.cancelled(ctx)
	}

	r.captureFinal(ctx)
	return testrun.StatusCompleted, !(r.opts.StrictActions && r.builder.HasErrors())
}

func (r *run) acquire(ctx context.Context) error {
	r.stream.Log(ctx, events.LevelInfo, events.CategorySession, "launching browser", map[string]interface{}{
		"headless": r.opts.Headless,
		"viewport": fmt.Sprintf("%dx%d", r.opts.Viewport.Width, r.opts.Viewport.Height),
	})

	browser, err := r.engine.Launch(ctx, engine.LaunchOptions{
		Headless:          r.opts.Headless,
		SlowMo:            r.opts.SlowMo,
		Viewport:          engine.Viewport{Width: r.opts.Viewport.Width, Height: r.opts.Viewport.Height},
		NavigationTimeout: r.opts.NavigationTimeout,
		ActionTimeout:     r.opts.ActionTimeout,
		Proxy:             r.opts.Proxy,
		ExtraHeaders:      r.opts.ExtraHeaders,
		UserAgent:         r.opts.UserAgent,
		Observer:          &pageObserver{run: r},
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	r.browser = browser

	page, err := browser.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	r.page = page
	return nil
}

func (r *run) transition(next testrun.Status) error {
	if err := r.sess.Transition(next); err != nil {
		return err
	}
	r.phase = next
	return nil
}

// navigate loads the target, waits out the warm-up and reports the page.
func (r *run) navigate(ctx context.Context) error {
	if err := r.transition(testrun.StatusNavigating); err != nil {
		return err
	}
	r.state(ctx, testrun.StatusNavigating, 0, "navigating to "+r.sess.TargetURL)

	start := time.Now()
	err := r.page.Navigate(ctx, r.sess.TargetURL)
	r.builder.AddNavigationTime(time.Since(start))
	if err != nil {
		return err
	}

	wait := r.opts.WarmupDelay
	for _, w := range r.warmup {
		d, err := w.WaitDuration()
		if err != nil {
			return fmt.Errorf("warm-up: %w", err)
		}
		wait += d
	}
	if wait > 0 {
		r.stream.Log(ctx, events.LevelDebug, events.CategorySession, "waiting after navigation", map[string]interface{}{
			"delay_ms": wait.Milliseconds(),
		})
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	url := r.currentURL(ctx)
	png := r.capture(ctx)
	r.sess.SetProgress(progressNavigated, "navigated", 0, len(r.actions))
	r.stream.State(ctx, events.StateUpdate{
		URL:           url,
		CurrentAction: "navigated",
		TotalActions:  len(r.actions),
		Status:        testrun.StatusNavigating,
		Progress:      progressNavigated,
		Screenshot:    png,
	})
	r.stream.Log(ctx, events.LevelInfo, events.CategorySession, "navigation complete", map[string]interface{}{
		"url":         url,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return nil
}

// executeActions runs the script one action at a time. Action failures are
// reported and skipped; only cancellation stops the loop.
func (r *run) executeActions(ctx context.Context) error {
	if err := r.transition(testrun.StatusExecuting); err != nil {
		return err
	}
	total := len(r.actions)
	r.state(ctx, testrun.StatusExecuting, progressNavigated, "executing actions")

	exec := NewActionExecutor(r.page, r.sess.ID, r.sess.TargetURL, r.shots, r.log)
	for i, a := range r.actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		desc := a.Describe()
		r.sess.SetProgress(0, desc, i, total)
		r.stream.Log(ctx, events.LevelInfo, events.CategoryAction, "executing action", map[string]interface{}{
			"action_index": i,
			"type":         string(a.Type),
			"description":  desc,
		})

		start := time.Now()
		shots, err := exec.Execute(ctx, i, a)
		r.builder.AddActionTime(time.Since(start))
		for _, s := range shots {
			r.builder.AddScreenshot(s)
			r.sess.SetScreenshot(s.Data)
		}
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		r.builder.ActionExecuted()
		if err != nil {
			r.actionFailed(ctx, i, a, err)
		} else {
			recordAction(string(a.Type), "ok")
		}
		// An action that finished despite a stop still counts, but the
		// session reports nothing more as executing.
		if err := ctx.Err(); err != nil {
			return err
		}

		progress := progressNavigated + progressActions*(i+1)/total
		var png []byte
		if r.opts.CaptureScreenshots {
			png = r.capture(ctx)
		}
		r.sess.SetProgress(progress, desc, i, total)
		r.stream.State(ctx, events.StateUpdate{
			URL:           r.currentURL(ctx),
			CurrentAction: desc,
			ActionIndex:   i,
			TotalActions:  total,
			Status:        testrun.StatusExecuting,
			Progress:      progress,
			Screenshot:    png,
		})
	}
	return nil
}

func (r *run) actionFailed(ctx context.Context, index int, a scenario.Action, err error) {
	timeout := engine.IsTimeout(err)
	details := map[string]interface{}{
		"action_index": index,
		"type":         string(a.Type),
		"error":        err.Error(),
		"timeout":      timeout,
	}
	if a.Selector != "" {
		details["selector"] = a.Selector
	}
	if errors.Is(err, ErrUnsupportedAction) {
		details["unsupported"] = true
	}

	r.builder.ActionFailed()
	msg := fmt.Sprintf("action %d (%s) failed: %v", index, a.Describe(), err)
	r.stream.Log(ctx, events.LevelError, events.CategoryAction, msg, details)
	r.log.Warn(ctx, "action failed", details)

	outcome := "error"
	if timeout {
		outcome = "timeout"
	}
	recordAction(string(a.Type), outcome)

	if r.opts.StrictActions {
		r.builder.AddError(testrun.CodeActionError, msg, details)
	}
}

// capture takes a screenshot for a state update. Failures are logged and
// yield nil.
func (r *run) capture(ctx context.Context) []byte {
	png, err := r.page.Screenshot(ctx)
	if err != nil {
		r.log.Warn(ctx, "failed to capture screenshot", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	r.sess.SetScreenshot(png)
	return png
}

func (r *run) captureFinal(ctx context.Context) {
	png, err := r.page.Screenshot(ctx)
	if err != nil {
		r.log.Warn(ctx, "failed to capture final screenshot", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	shot := testrun.Screenshot{
		ActionIndex: testrun.FinalScreenshotIndex,
		Data:        png,
		CapturedAt:  time.Now(),
	}
	if r.shots != nil {
		key, err := r.shots.SaveFinal(ctx, r.sess.ID, png)
		if err != nil {
			r.log.Warn(ctx, "failed to persist final screenshot", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			shot.Path = key
		}
	}
	r.builder.AddScreenshot(shot)
	r.sess.SetScreenshot(png)
}

func (r *run) currentURL(ctx context.Context) string {
	u, err := r.page.URL(ctx)
	if err != nil {
		r.log.Debug(ctx, "failed to read page url", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	r.sess.SetURL(u)
	return u
}

func (r *run) state(ctx context.Context, status testrun.Status, progress int, action string) {
	r.sess.SetProgress(progress, action, 0, len(r.actions))
	snap := r.sess.Snapshot()
	r.stream.State(ctx, events.StateUpdate{
		URL:           snap.CurrentURL,
		CurrentAction: action,
		TotalActions:  len(r.actions),
		Status:        status,
		Progress:      snap.Progress,
	})
}

func (r *run) fault(ctx context.Context, code, message string, details map[string]interface{}) {
	r.builder.AddError(code, message, details)
	r.stream.Error(ctx, code, message, details)
	r.log.Error(ctx, message, map[string]interface{}{
		"code":  code,
		"phase": string(r.phase),
	})
}

func (r *run) cancelled(ctx context.Context) (testrun.Status, bool) {
	r.log.Info(ctx, "session cancelled", map[string]interface{}{
		"phase": string(r.phase),
	})
	r.stream.Log(ctx, events.LevelInfo, events.CategorySession, "session cancelled", map[string]interface{}{
		"phase": string(r.phase),
	})
	return testrun.StatusCancelled, false
}

// teardown closes the page and then the browser. Close failures are logged
// and never replace the session's outcome.
func (r *run) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if r.page != nil {
		r.closeQuietly(ctx, "page", r.page.Close)
		r.page = nil
	}
	if r.browser != nil {
		r.closeQuietly(ctx, "browser", r.browser.Close)
		r.browser = nil
	}
}

func (r *run) closeQuietly(ctx context.Context, what string, closeFn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "panic while closing "+what, map[string]interface{}{
				"panic": fmt.Sprint(p),
			})
		}
	}()
	if err := closeFn(); err != nil {
		r.log.Warn(ctx, "failed to close "+what, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// finish builds the result, records it on the session and ends the stream.
func (r *run) finish(ctx context.Context, status testrun.Status, success bool) *testrun.Result {
	ctx = context.WithoutCancel(ctx)

	if settled, _ := r.sess.Settle(status); settled != status {
		r.log.Info(ctx, "session outcome already settled", map[string]interface{}{
			"status":  string(settled),
			"reached": string(status),
		})
		status, success = settled, false
	}

	res, err := r.builder.Build(status, success, time.Now())
	if err != nil {
		r.log.Error(ctx, "failed to build result", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if err := r.sess.Finish(status, res); err != nil {
		r.log.Error(ctx, "failed to record result", map[string]interface{}{
			"error": err.Error(),
		})
	}

	snap := r.sess.Snapshot()
	progress := snap.Progress
	if status == testrun.StatusCompleted {
		progress = progressDone
	}
	r.stream.State(ctx, events.StateUpdate{
		URL:           snap.CurrentURL,
		CurrentAction: snap.CurrentAction,
		ActionIndex:   snap.ActionIndex,
		TotalActions:  snap.TotalActions,
		Status:        status,
		Progress:      progress,
	})
	r.stream.Complete(ctx, res)

	recordSessionFinished(status, res.Duration)
	r.log.Info(ctx, "session finished", map[string]interface{}{
		"status":           string(status),
		"success":          res.Success,
		"actions_executed": res.ActionsExecuted,
		"duration_ms":      res.Duration.Milliseconds(),
	})
	return res
}

// pageObserver turns browser notifications into resource counts and, when
// enabled, console and network log entries.
type pageObserver struct {
	run *run
}

func (o *pageObserver) OnConsole(level, text string) {
	if !o.run.opts.LogConsole {
		return
	}
	o.run.stream.Log(context.Background(), consoleLevel(level), events.CategoryConsole, text, map[string]interface{}{
		"console_type": level,
	})
}

func (o *pageObserver) OnRequest(method, url, resourceType string) {
	o.run.builder.CountRequest()
	if !o.run.opts.LogNetwork {
		return
	}
	o.run.stream.Log(context.Background(), events.LevelDebug, events.CategoryNetwork, method+" "+url, map[string]interface{}{
		"method":        method,
		"url":           url,
		"resource_type": resourceType,
	})
}

func (o *pageObserver) OnResponse(url string, status int) {
	o.run.builder.CountResponse()
	if !o.run.opts.LogNetwork {
		return
	}
	level := events.LevelDebug
	if status >= 400 {
		level = events.LevelWarn
	}
	o.run.stream.Log(context.Background(), level, events.CategoryNetwork, fmt.Sprintf("%d %s", status, url), map[string]interface{}{
		"url":    url,
		"status": status,
	})
}

func (o *pageObserver) OnRequestFailed(requestID, reason string) {
	o.run.builder.CountFailedRequest()
	if !o.run.opts.LogNetwork {
		return
	}
	o.run.stream.Log(context.Background(), events.LevelWarn, events.CategoryNetwork, "request failed: "+reason, map[string]interface{}{
		"request_id": requestID,
		"reason":     reason,
	})
}

func consoleLevel(t string) events.Level {
	switch t {
	case "error", "assert":
		return events.LevelError
	case "warning", "warn":
		return events.LevelWarn
	case "debug", "trace":
		return events.LevelDebug
	default:
		return events.LevelInfo
	}
}
