package orchestrator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
	"github.com/hairizuan-noorazman/ui-orchestrator/events"
	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
	"github.com/hairizuan-noorazman/ui-orchestrator/scenario"
	"github.com/hairizuan-noorazman/ui-orchestrator/session"
	"github.com/hairizuan-noorazman/ui-orchestrator/storage"
	"github.com/hairizuan-noorazman/ui-orchestrator/testrun"
	"github.com/hairizuan-noorazman/ui-orchestrator/testutil"
)

const target = "https://shop.example.com"

type harness struct {
	orch *Orchestrator
	eng  *testutil.FakeEngine
	sink *testutil.RecordingSink
	log  *logger.TestLogger
	reg  *session.Registry
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		eng:  testutil.NewFakeEngine(),
		sink: testutil.NewRecordingSink(),
		log:  logger.NewTestLogger(),
	}
	h.reg = session.NewRegistry(h.log)
	opts = append([]Option{WithLogger(h.log)}, opts...)
	h.orch = New(cfg, h.eng, h.sink, h.reg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, h.orch.Shutdown(ctx))
	})
	return h
}

func (h *harness) start(t *testing.T, script scenario.Script, mutate ...func(*scenario.Options)) uuid.UUID {
	t.Helper()
	opts := testutil.FastOptions()
	for _, m := range mutate {
		m(&opts)
	}
	handle, err := h.orch.Start(context.Background(), StartRequest{
		TargetURL: target,
		Script:    script,
		Options:   opts,
	})
	require.NoError(t, err)
	return handle.SessionID
}

func (h *harness) wait(t *testing.T, id uuid.UUID) *testrun.Result {
	t.Helper()
	select {
	case <-h.sink.Done(id):
	case <-time.After(5 * time.Second):
		t.Fatal("session did not complete")
	}
	res, err := h.orch.GetResult(id)
	require.NoError(t, err)
	return res
}

func (h *harness) assertTornDown(t *testing.T) {
	t.Helper()
	assert.Equal(t, h.eng.Launches(), h.eng.BrowsersClosed(), "every browser closed once")
	assert.Equal(t, h.eng.PagesOpened(), h.eng.PagesClosed(), "every page closed once")
}

func finalShots(res *testrun.Result) int {
	n := 0
	for _, s := range res.Screenshots {
		if s.ActionIndex == testrun.FinalScreenshotIndex {
			n++
		}
	}
	return n
}

func TestStart_CompletesScript(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, testutil.CheckoutScript())
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ActionsExecuted)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, finalShots(res))
	assert.Equal(t, 1, res.Screenshots[0].ActionIndex, "screenshot action is tagged with its index")
	assert.Equal(t, 0, res.Metrics.FailedActions)
	assert.Equal(t, 1, res.Metrics.Resources.Requests)
	assert.Equal(t, 1, res.Metrics.Resources.Responses)
	assert.True(t, res.CompletedAt.After(res.StartedAt) || res.CompletedAt.Equal(res.StartedAt))

	assert.Equal(t, 1, h.eng.Launches())
	assert.Equal(t, 1, h.eng.PagesOpened())
	assert.Equal(t, []string{"page", "browser"}, h.eng.CloseOrder())
	assert.Equal(t, 1, h.eng.Calls(testutil.OpNavigate))
	assert.Equal(t, 1, h.eng.Calls(testutil.OpClick))

	status, err := h.orch.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.True(t, status.HasResult)
}

func TestStart_EventOrdering(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, testutil.CheckoutScript())
	h.wait(t, id)

	evs := h.sink.Events(id)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.KindCompleted, evs[len(evs)-1].Kind)

	for i := 1; i < len(evs); i++ {
		assert.Equal(t, evs[i-1].Seq+1, evs[i].Seq)
		assert.False(t, evs[i].Timestamp.Before(evs[i-1].Timestamp))
	}

	// Statuses only move forward along the state machine.
	rank := map[testrun.Status]int{
		testrun.StatusInitializing: 0,
		testrun.StatusNavigating:   1,
		testrun.StatusExecuting:    2,
		testrun.StatusCompleted:    3,
	}
	var seen []testrun.Status
	last := -1
	for _, st := range h.sink.States(id) {
		r, ok := rank[st.Status]
		require.True(t, ok, "unexpected status %s", st.Status)
		assert.GreaterOrEqual(t, r, last)
		if r > last {
			seen = append(seen, st.Status)
		}
		last = r
	}
	assert.Equal(t, []testrun.Status{
		testrun.StatusInitializing,
		testrun.StatusNavigating,
		testrun.StatusExecuting,
		testrun.StatusCompleted,
	}, seen)

	// Progress never goes backwards and ends at 100.
	states := h.sink.States(id)
	for i := 1; i < len(states); i++ {
		assert.GreaterOrEqual(t, states[i].Progress, states[i-1].Progress)
	}
	assert.Equal(t, 100, states[len(states)-1].Progress)
}

func TestStart_ActionTimeoutContinues(t *testing.T) {
	tests := []struct {
		name        string
		strict      bool
		wantSuccess bool
		wantErrors  int
	}{
		{name: "continue on error", strict: false, wantSuccess: true, wantErrors: 0},
		{name: "strict actions", strict: true, wantSuccess: false, wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.eng.FailWith(testutil.OpClick, fmt.Errorf("click #buy: %w", engine.ErrTimeout))

			id := h.start(t, testutil.CheckoutScript(), func(o *scenario.Options) { o.StrictActions = tt.strict })
			res := h.wait(t, id)

			assert.Equal(t, testrun.StatusCompleted, res.Status)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Len(t, res.Errors, tt.wantErrors)
			if tt.wantErrors > 0 {
				assert.Equal(t, testrun.CodeActionError, res.Errors[0].Code)
			}
			assert.Equal(t, 2, res.ActionsExecuted)
			assert.Equal(t, 1, res.Metrics.FailedActions)

			// The screenshot action after the failed click still ran.
			var shotAction bool
			for _, s := range res.Screenshots {
				if s.ActionIndex == 1 {
					shotAction = true
				}
			}
			assert.True(t, shotAction)

			var errLogs []events.LogEntry
			for _, l := range h.sink.Logs(id) {
				if l.Level == events.LevelError {
					errLogs = append(errLogs, l)
				}
			}
			require.Len(t, errLogs, 1)
			assert.Equal(t, events.CategoryAction, errLogs[0].Category)
			assert.Equal(t, 0, errLogs[0].Details["action_index"])
			assert.Equal(t, true, errLogs[0].Details["timeout"])
			h.assertTornDown(t)
		})
	}
}

func TestStart_UnsupportedActionDoesNotCrash(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, scenario.Script{
		{Type: "drag", Selector: "#card"},
		{Type: scenario.ActionClick, Selector: "#buy"},
	})
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.ActionsExecuted)
	assert.Equal(t, 1, res.Metrics.FailedActions)
	assert.Equal(t, 1, h.eng.Calls(testutil.OpClick))

	var found bool
	for _, l := range h.sink.Logs(id) {
		if l.Level == events.LevelError && l.Details["unsupported"] == true {
			found = true
			assert.Equal(t, 0, l.Details["action_index"])
		}
	}
	assert.True(t, found, "unsupported action logged at error level")
}

func TestStart_NavigationFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.eng.FailWith(testutil.OpNavigate, errors.New("net::ERR_NAME_NOT_RESOLVED"))

	id := h.start(t, testutil.CheckoutScript())
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusError, res.Status)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, testrun.CodeExecutionError, res.Errors[0].Code)
	assert.Equal(t, target, res.Errors[0].Details["url"])
	assert.Equal(t, 0, res.ActionsExecuted)
	assert.Equal(t, 0, h.eng.Calls(testutil.OpClick))

	var errEvents int
	for _, ev := range h.sink.Events(id) {
		if ev.Kind == events.KindError {
			errEvents++
			assert.Equal(t, testrun.CodeExecutionError, ev.Error.Code)
		}
	}
	assert.Equal(t, 1, errEvents)

	assert.Equal(t, 1, h.eng.Launches())
	h.assertTornDown(t)
}

func TestStart_AcquisitionFailure(t *testing.T) {
	tests := []struct {
		name           string
		op             testutil.Op
		wantLaunches   int
		wantPageCloses int
	}{
		{name: "launch fails", op: testutil.OpLaunch, wantLaunches: 0, wantPageCloses: 0},
		{name: "new page fails", op: testutil.OpNewPage, wantLaunches: 1, wantPageCloses: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.eng.FailWith(tt.op, errors.New("chrome not found"))

			id := h.start(t, testutil.CheckoutScript())
			res := h.wait(t, id)

			assert.Equal(t, testrun.StatusError, res.Status)
			require.Len(t, res.Errors, 1)
			assert.Equal(t, testrun.CodeAcquisitionError, res.Errors[0].Code)
			assert.Contains(t, res.Errors[0].Message, "chrome not found")
			assert.Equal(t, tt.wantLaunches, h.eng.Launches())
			assert.Equal(t, tt.wantLaunches, h.eng.BrowsersClosed())
			assert.Equal(t, tt.wantPageCloses, h.eng.PagesClosed())
			assert.Equal(t, 0, h.eng.Calls(testutil.OpNavigate))
		})
	}
}

func TestStart_TeardownFailureDoesNotMaskOutcome(t *testing.T) {
	h := newHarness(t, Config{})
	h.eng.PageCloseErr = errors.New("target closed")
	h.eng.BrowserCloseErr = errors.New("process already exited")

	id := h.start(t, testutil.CheckoutScript())
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.True(t, res.Success)
	assert.Equal(t, []string{"page", "browser"}, h.eng.CloseOrder())
	assert.Len(t, h.log.EntriesWithLevel("warn"), 2)
}

func TestStop_MidActionCancels(t *testing.T) {
	h := newHarness(t, Config{})
	entered := h.eng.Block(testutil.OpClick)

	id := h.start(t, scenario.Script{
		{Type: scenario.ActionClick, Selector: "#buy"},
		{Type: scenario.ActionHover, Selector: "#menu"},
	})
	<-entered

	active := h.orch.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	_, err := h.orch.GetResult(id)
	assert.ErrorIs(t, err, ErrResultNotAvailable)

	_, err = h.orch.Stop(context.Background(), id)
	require.NoError(t, err)
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusCancelled, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.ActionsExecuted)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 1, h.eng.Calls(testutil.OpClick))
	assert.Equal(t, 0, h.eng.Calls(testutil.OpHover))
	h.assertTornDown(t)
	assert.Empty(t, h.orch.ListActive())

	evs := h.sink.Events(id)
	assert.Equal(t, events.KindCompleted, evs[len(evs)-1].Kind)
	var cancelState bool
	for _, st := range h.sink.States(id) {
		if st.Status == testrun.StatusCancelled {
			cancelState = true
		}
	}
	assert.True(t, cancelState)

	snap, err := h.orch.GetStatus(id)
	require.NoError(t, err)
	assert.True(t, snap.Retired)
}

func TestStop_ActionFinishingAfterStopDoesNotResume(t *testing.T) {
	h := newHarness(t, Config{})
	entered, release := h.eng.Hold(testutil.OpClick)
	defer release()

	id := h.start(t, scenario.Script{
		{Type: scenario.ActionClick, Selector: "#buy"},
		{Type: scenario.ActionHover, Selector: "#menu"},
	})
	<-entered

	_, err := h.orch.Stop(context.Background(), id)
	require.NoError(t, err)
	// The click ignores the stop and succeeds.
	release()
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusCancelled, res.Status)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ActionsExecuted)
	assert.Equal(t, 0, h.eng.Calls(testutil.OpHover))
	h.assertTornDown(t)

	var statuses []testrun.Status
	for _, st := range h.sink.States(id) {
		statuses = append(statuses, st.Status)
	}
	terminal := -1
	for i, st := range statuses {
		if st.IsTerminal() {
			terminal = i
			break
		}
	}
	require.NotEqual(t, -1, terminal, "statuses: %v", statuses)
	assert.Equal(t, testrun.StatusCancelled, statuses[terminal])
	assert.Equal(t, len(statuses)-1, terminal, "no state follows cancelled: %v", statuses)

	evs := h.sink.Events(id)
	assert.Equal(t, events.KindCompleted, evs[len(evs)-1].Kind)
}

func TestStop_BeforeNavigation(t *testing.T) {
	h := newHarness(t, Config{})
	entered := h.eng.Block(testutil.OpLaunch)

	id := h.start(t, testutil.CheckoutScript())
	<-entered

	res, err := h.orch.Stop(context.Background(), id)
	require.NoError(t, err)
	if res != nil {
		assert.Equal(t, testrun.StatusCancelled, res.Status)
	}

	res = h.wait(t, id)
	assert.Equal(t, testrun.StatusCancelled, res.Status)
	assert.Equal(t, 0, res.ActionsExecuted)
	assert.Equal(t, 0, h.eng.Calls(testutil.OpNavigate))
	h.assertTornDown(t)
}

func TestStart_AdmissionLimit(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentSessions: 1})
	entered := h.eng.Block(testutil.OpClick)

	first := h.start(t, scenario.Script{{Type: scenario.ActionClick, Selector: "#buy"}})
	<-entered
	second := h.start(t, scenario.Script{{Type: scenario.ActionHover, Selector: "#menu"}})

	// The second session waits for a slot without launching a browser.
	time.Sleep(50 * time.Millisecond)
	snap, err := h.orch.GetStatus(second)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusInitializing, snap.Status)
	assert.Equal(t, 1, h.eng.Launches())
	assert.Len(t, h.orch.ListActive(), 2)

	_, err = h.orch.Stop(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCancelled, h.wait(t, first).Status)

	res := h.wait(t, second)
	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.Equal(t, 2, h.eng.Launches())
	h.assertTornDown(t)
}

func TestStop_WhileWaitingForSlot(t *testing.T) {
	h := newHarness(t, Config{MaxConcurrentSessions: 1})
	entered := h.eng.Block(testutil.OpClick)

	first := h.start(t, scenario.Script{{Type: scenario.ActionClick, Selector: "#buy"}})
	<-entered
	second := h.start(t, testutil.CheckoutScript())

	_, err := h.orch.Stop(context.Background(), second)
	require.NoError(t, err)
	res := h.wait(t, second)
	assert.Equal(t, testrun.StatusCancelled, res.Status)
	assert.Equal(t, 0, res.ActionsExecuted)
	assert.Equal(t, 1, h.eng.Launches())

	_, err = h.orch.Stop(context.Background(), first)
	require.NoError(t, err)
	h.wait(t, first)
}

func TestStart_PanicIsContained(t *testing.T) {
	h := newHarness(t, Config{})
	h.eng.Panic(testutil.OpHover)

	id := h.start(t, scenario.Script{{Type: scenario.ActionHover, Selector: "#menu"}})
	res := h.wait(t, id)

	assert.Equal(t, testrun.StatusError, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, testrun.CodeExecutionError, res.Errors[0].Code)
	assert.Contains(t, res.Errors[0].Details["panic"], "hover panicked")
	assert.Equal(t, string(testrun.StatusExecuting), res.Errors[0].Details["phase"])
	h.assertTornDown(t)
}

func TestStart_ConsoleAndNetworkLogs(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, testutil.CheckoutScript(), func(o *scenario.Options) {
		o.LogConsole = true
		o.LogNetwork = true
	})
	h.wait(t, id)

	categories := map[string]int{}
	for _, l := range h.sink.Logs(id) {
		categories[l.Category]++
	}
	assert.Equal(t, 1, categories[events.CategoryConsole])
	assert.Equal(t, 2, categories[events.CategoryNetwork])
}

func TestStart_ConsoleAndNetworkLogsDisabled(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, testutil.CheckoutScript())
	res := h.wait(t, id)

	for _, l := range h.sink.Logs(id) {
		assert.NotEqual(t, events.CategoryConsole, l.Category)
		assert.NotEqual(t, events.CategoryNetwork, l.Category)
	}
	assert.Equal(t, 1, res.Metrics.Resources.Requests, "resource counts are kept regardless")
}

func TestStart_PostActionScreenshots(t *testing.T) {
	tests := []struct {
		name    string
		capture bool
		want    int
	}{
		// navigation + one per action + final
		{name: "enabled", capture: true, want: 1 + 2 + 1},
		// navigation + final
		{name: "disabled", capture: false, want: 1 + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			id := h.start(t, scenario.Script{
				{Type: scenario.ActionClick, Selector: "#a"},
				{Type: scenario.ActionClick, Selector: "#b"},
			}, func(o *scenario.Options) { o.CaptureScreenshots = tt.capture })
			h.wait(t, id)

			assert.Equal(t, tt.want, h.eng.Calls(testutil.OpScreenshot))

			var withShot int
			for _, st := range h.sink.States(id) {
				if st.Screenshot != nil {
					withShot++
				}
			}
			assert.Equal(t, tt.want-1, withShot)
		})
	}
}

func TestStart_PersistsScreenshots(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)

	h := newHarness(t, Config{}, WithScreenshotStore(storage.NewScreenshotStore(local)))
	id := h.start(t, testutil.CheckoutScript())
	res := h.wait(t, id)

	require.Len(t, res.Screenshots, 2)
	assert.Equal(t, storage.ActionKey(id, 1, 1), res.Screenshots[0].Path)
	assert.Equal(t, storage.FinalKey(id), res.Screenshots[1].Path)
	for _, s := range res.Screenshots {
		_, err := os.Stat(filepath.Join(dir, filepath.FromSlash(s.Path)))
		assert.NoError(t, err)
	}
}

func TestGetScreenshot(t *testing.T) {
	h := newHarness(t, Config{})
	entered := h.eng.Block(testutil.OpLaunch)
	id := h.start(t, testutil.CheckoutScript())
	<-entered

	_, err := h.orch.GetScreenshot(id)
	assert.ErrorIs(t, err, ErrScreenshotNotAvailable)

	_, err = h.orch.Stop(context.Background(), id)
	require.NoError(t, err)
	h.wait(t, id)

	h2 := newHarness(t, Config{})
	id2 := h2.start(t, testutil.CheckoutScript())
	h2.wait(t, id2)

	shot, err := h2.orch.GetScreenshot(id2)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(h2.eng.ScreenshotData), shot)
}

func TestStart_InvalidRequests(t *testing.T) {
	h := newHarness(t, Config{})

	tests := []struct {
		name string
		req  StartRequest
	}{
		{name: "empty url", req: StartRequest{}},
		{name: "relative url", req: StartRequest{TargetURL: "/checkout"}},
		{name: "ftp url", req: StartRequest{TargetURL: "ftp://example.com"}},
		{
			name: "negative repeat",
			req: StartRequest{
				TargetURL: target,
				Script:    scenario.Script{{Type: scenario.ActionClick, Selector: "#a", Repeat: -1}},
			},
		},
		{
			name: "too many actions",
			req:  StartRequest{TargetURL: target, Script: make(scenario.Script, scenario.DefaultLimits().MaxActions+1)},
		},
		{
			name: "negative slow motion",
			req:  StartRequest{TargetURL: target, Options: scenario.Options{SlowMo: -time.Second}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Start(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, h.reg.Len())
}

func TestStart_DefaultsAndName(t *testing.T) {
	h := newHarness(t, Config{WarmupDelay: time.Millisecond})
	handle, err := h.orch.Start(context.Background(), StartRequest{TargetURL: target})
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusInitializing, handle.Status)
	assert.Equal(t, events.ChannelFor(handle.SessionID), handle.Channel)

	res := h.wait(t, handle.SessionID)
	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.Equal(t, 0, res.ActionsExecuted)

	sess, err := h.reg.Get(handle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", sess.Name)
	assert.Equal(t, scenario.DefaultNavigationTimeout, sess.Options.NavigationTimeout)
	assert.Equal(t, time.Millisecond, sess.Options.WarmupDelay)

	opts := h.eng.LaunchOptions()
	require.Len(t, opts, 1)
	assert.Equal(t, scenario.DefaultViewportWidth, opts[0].Viewport.Width)
}

func TestStart_SanitizesSessionName(t *testing.T) {
	h := newHarness(t, Config{})
	handle, err := h.orch.Start(context.Background(), StartRequest{
		TargetURL:   target,
		SessionName: "  nightly\n checkout ",
		Options:     testutil.FastOptions(),
	})
	require.NoError(t, err)
	h.wait(t, handle.SessionID)

	snap, err := h.orch.GetStatus(handle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "nightly checkout", snap.Name)
}

func TestStart_PassesLaunchOptions(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, nil, func(o *scenario.Options) {
		o.Headless = false
		o.Proxy = "http://proxy:3128"
		o.UserAgent = "ui-orchestrator-test"
		o.ExtraHeaders = map[string]string{"X-Test": "1"}
		o.Viewport = scenario.Viewport{Width: 375, Height: 812}
	})
	h.wait(t, id)

	opts := h.eng.LaunchOptions()
	require.Len(t, opts, 1)
	assert.False(t, opts[0].Headless)
	assert.Equal(t, "http://proxy:3128", opts[0].Proxy)
	assert.Equal(t, "ui-orchestrator-test", opts[0].UserAgent)
	assert.Equal(t, map[string]string{"X-Test": "1"}, opts[0].ExtraHeaders)
	assert.Equal(t, engine.Viewport{Width: 375, Height: 812}, opts[0].Viewport)
	assert.Equal(t, time.Second, opts[0].ActionTimeout)
	assert.NotNil(t, opts[0].Observer)
}

func TestUnknownSession(t *testing.T) {
	h := newHarness(t, Config{})
	id := uuid.New()

	_, err := h.orch.GetStatus(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.orch.GetResult(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.orch.GetScreenshot(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.orch.Stop(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStop_AfterCompletion(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.start(t, testutil.CheckoutScript())
	h.wait(t, id)
	before := len(h.sink.Events(id))

	res, err := h.orch.Stop(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, testrun.StatusCompleted, res.Status)
	assert.Len(t, h.sink.Events(id), before, "nothing is emitted after Completed")
}

func TestShutdown_CancelsRunningSessions(t *testing.T) {
	h := newHarness(t, Config{})
	entered := h.eng.Block(testutil.OpClick)
	id := h.start(t, scenario.Script{{Type: scenario.ActionClick, Selector: "#buy"}})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Shutdown(ctx))

	res, err := h.orch.GetResult(id)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCancelled, res.Status)
	h.assertTornDown(t)

	_, err = h.orch.Start(context.Background(), StartRequest{TargetURL: target})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_DeadlineStillStopsCleanup(t *testing.T) {
	eng := testutil.NewFakeEngine()
	reg := session.NewRegistry(logger.NewTestLogger(), session.WithRetention(time.Millisecond))
	orch := New(Config{CleanupInterval: 5 * time.Millisecond}, eng, nil, reg)
	entered, release := eng.Hold(testutil.OpClick)
	defer release()

	handle, err := orch.Start(context.Background(), StartRequest{
		TargetURL: target,
		Script:    scenario.Script{{Type: scenario.ActionClick, Selector: "#buy"}},
		Options:   testutil.FastOptions(),
	})
	require.NoError(t, err)
	<-entered

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, orch.Shutdown(expired), context.Canceled)

	// With the cleanup loop gone a retired session outlives its retention.
	retired, _ := reg.Create(context.Background(), session.NewSession{TargetURL: target, Options: testutil.FastOptions()})
	require.NoError(t, reg.Retire(retired.ID))
	time.Sleep(50 * time.Millisecond)
	_, err = reg.Get(retired.ID)
	assert.NoError(t, err)

	release()
	ctx, cancelWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelWait()
	require.NoError(t, orch.Shutdown(ctx))

	res, err := orch.GetResult(handle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, testrun.StatusCancelled, res.Status)
	assert.Equal(t, 1, res.ActionsExecuted)
}

func TestStart_HubSubscriberSeesWholeSession(t *testing.T) {
	hub := events.NewHub(events.HubConfig{})
	defer hub.Close()

	eng := testutil.NewFakeEngine()
	reg := session.NewRegistry(logger.NewTestLogger(), session.WithRemoveHook(hub.Forget))
	orch := New(Config{}, eng, hub, reg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, orch.Shutdown(ctx))
	}()

	handle, err := orch.Start(context.Background(), StartRequest{
		TargetURL: target,
		Script:    testutil.CheckoutScript(),
		Options:   testutil.FastOptions(),
	})
	require.NoError(t, err)

	ch, unsubscribe := hub.Subscribe(handle.SessionID)
	defer unsubscribe()

	var got []events.Event
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-ch:
			if !ok {
				done = true
				break
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("subscriber channel was not closed")
		}
	}

	require.NotEmpty(t, got)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, events.KindCompleted, got[len(got)-1].Kind)
	assert.Equal(t, testrun.StatusCompleted, got[len(got)-1].Result.Status)

	reg.Remove(handle.SessionID)
	ch2, unsub2 := hub.Subscribe(handle.SessionID)
	defer unsub2()
	// A forgotten session starts from an empty topic.
	select {
	case <-ch2:
		t.Fatal("no backlog expected after Forget")
	default:
	}
}

func TestRegistryCleanupRemovesRetiredSessions(t *testing.T) {
	reg := session.NewRegistry(logger.NewTestLogger(), session.WithRetention(time.Millisecond))
	orch := New(Config{CleanupInterval: 5 * time.Millisecond}, testutil.NewFakeEngine(), nil, reg)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, orch.Shutdown(ctx))
	}()

	handle, err := orch.Start(context.Background(), StartRequest{TargetURL: target, Options: testutil.FastOptions()})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := orch.GetStatus(handle.SessionID)
		return errors.Is(err, ErrSessionNotFound)
	}, 5*time.Second, 10*time.Millisecond)
}
