package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
)

// scrollScript scrolls the viewport down by one page height.
const scrollScript = `window.scrollBy(0, window.innerHeight)`

// ActionExecutor runs single script actions against one page.
type ActionExecutor struct {
	page      engine.Page
	sessionID uuid.UUID
	targetURL string
	shots     *storage.ScreenshotStore
	logger    logger.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewActionExecutor creates an ActionExecutor for page. shots may be nil, in
// which case screenshots are kept in memory only.
func NewActionExecutor(page engine.Page, sessionID uuid.UUID, targetURL string, shots *storage.ScreenshotStore, log logger.Logger) *ActionExecutor {
	return &ActionExecutor{
		page:      page,
		sessionID: sessionID,
		targetURL: targetURL,
		shots:     shots,
		logger:    log,
		sleep:     sleep,
	}
}

// Execute runs a Times() times, then sleeps for its post-action delay unless
// it is a fixed wait. It returns the screenshots a screenshot action took.
func (e *ActionExecutor) Execute(ctx context.Context, index int, a scenario.Action) ([]testrun.Screenshot, error) {
	ctx, span := tracer().Start(ctx, "action."+string(a.Type))
	defer span.End()
	span.SetAttributes(
		attribute.Int("action.index", index),
		attribute.String("action.type", string(a.Type)),
		attribute.Int("action.repeat", a.Times()),
	)

	shots, err := e.execute(ctx, index, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return shots, err
}

func (e *ActionExecutor) execute(ctx context.Context, index int, a scenario.Action) ([]testrun.Screenshot, error) {
	if !a.Type.IsKnown() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Type)
	}
	if a.Type.NeedsSelector() && a.Selector == "" {
		return nil, fmt.Errorf("%w: %s requires a selector", scenario.ErrInvalidAction, a.Type)
	}

	var shots []testrun.Screenshot
	times := a.Times()
	for n := 1; n <= times; n++ {
		if err := ctx.Err(); err != nil {
			return shots, err
		}
		shot, err := e.once(ctx, index, n, a)
		if err != nil {
			if times > 1 {
				return shots, fmt.Errorf("repeat %d/%d: %w", n, times, err)
			}
			return shots, err
		}
		if shot != nil {
			shots = append(shots, *shot)
		}
	}

	if a.Delay > 0 && !a.Type.IsWait() {
		if err := e.sleep(ctx, a.Delay); err != nil {
			return shots, err
		}
	}
	return shots, nil
}

// once performs one repetition of a.
func (e *ActionExecutor) once(ctx context.Context, index, n int, a scenario.Action) (*testrun.Screenshot, error) {
	switch a.Type {
	case scenario.ActionNavigate:
		target := a.Value
		if target == "" {
			target = e.targetURL
		}
		return nil, e.page.Navigate(ctx, target)

	case scenario.ActionScroll:
		return nil, e.page.Evaluate(ctx, scrollScript, nil)

	case scenario.ActionClick:
		return nil, e.page.Click(ctx, a.Selector)

	case scenario.ActionTypeText:
		return nil, e.page.Type(ctx, a.Selector, a.Value)

	case scenario.ActionWaitForSelector:
		return nil, e.page.WaitForSelector(ctx, a.Selector)

	case scenario.ActionWait, scenario.ActionWaitForTimeout:
		d, err := a.WaitDuration()
		if err != nil {
			return nil, err
		}
		return nil, e.sleep(ctx, d)

	case scenario.ActionScreenshot:
		return e.screenshot(ctx, index, n, a.Value)

	case scenario.ActionEvaluate:
		return nil, e.page.Evaluate(ctx, a.Value, nil)

	case scenario.ActionHover:
		return nil, e.page.Hover(ctx, a.Selector)

	case scenario.ActionSelectOption:
		return nil, e.page.SelectOption(ctx, a.Selector, a.Value)

	case scenario.ActionSetValue:
		return nil, e.page.SetValue(ctx, a.Selector, a.Value)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, a.Type)
	}
}

// screenshot captures the page and, when a store is configured, persists it
// under name or a generated key. A failed save keeps the in-memory image.
func (e *ActionExecutor) screenshot(ctx context.Context, index, n int, name string) (*testrun.Screenshot, error) {
	png, err := e.page.Screenshot(ctx)
	if err != nil {
		return nil, err
	}
	shot := &testrun.Screenshot{
		ActionIndex: index,
		Data:        png,
		CapturedAt:  time.Now(),
	}
	if e.shots == nil {
		return shot, nil
	}

	key, err := e.shots.SaveAction(ctx, e.sessionID, index, n, name, png)
	if err != nil {
		e.logger.Warn(ctx, "failed to persist screenshot", map[string]interface{}{
			"action_index": index,
			"error":        err.Error(),
		})
		return shot, nil
	}
	shot.Path = key
	return shot, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
