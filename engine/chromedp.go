package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/hairizuan-noorazman/ui-orchestrator/logger"
)

// ChromeEngine launches Chrome through the DevTools protocol. Every Launch
// starts its own browser process so sessions never share state.
type ChromeEngine struct {
	logger   logger.Logger
	execPath string
	flags    map[string]interface{}
}

// ChromeOption customises a ChromeEngine.
type ChromeOption func(*ChromeEngine)

// WithExecPath points the engine at a specific Chrome binary.
func WithExecPath(path string) ChromeOption {
	return func(e *ChromeEngine) {
		e.execPath = path
	}
}

// WithFlag adds a command line flag to every launched browser.
func WithFlag(name string, value interface{}) ChromeOption {
	return func(e *ChromeEngine) {
		e.flags[name] = value
	}
}

// NewChromeEngine creates a ChromeEngine.
func NewChromeEngine(log logger.Logger, opts ...ChromeOption) *ChromeEngine {
	e := &ChromeEngine{
		logger: log,
		flags: map[string]interface{}{
			"disable-gpu":              true,
			"disable-dev-shm-usage":    true,
			"no-sandbox":               true,
			"no-first-run":             true,
			"no-default-browser-check": true,
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// launchFlags merges the engine flags with the per-launch settings.
func (e *ChromeEngine) launchFlags(opts LaunchOptions) map[string]interface{} {
	flags := make(map[string]interface{}, len(e.flags)+4)
	for k, v := range e.flags {
		flags[k] = v
	}
	flags["headless"] = opts.Headless
	if opts.Headless {
		flags["hide-scrollbars"] = true
		flags["mute-audio"] = true
	}
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", opts.Viewport.Width, opts.Viewport.Height)
	}
	if opts.Proxy != "" {
		flags["proxy-server"] = opts.Proxy
	}
	if opts.UserAgent != "" {
		flags["user-agent"] = opts.UserAgent
	}
	return flags
}

// Launch starts a browser. Cancelling ctx aborts a launch in progress.
func (e *ChromeEngine) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	allocOpts := make([]chromedp.ExecAllocatorOption, 0, len(e.flags)+8)
	for name, value := range e.launchFlags(opts) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if e.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.execPath))
	}

	// The browser process is bound to these contexts, not to ctx, so that
	// teardown stays under the caller's control.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := runBound(ctx, browserCtx); err != nil {
		browserCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	e.logger.Debug(ctx, "browser launched", map[string]interface{}{
		"headless": opts.Headless,
		"viewport": fmt.Sprintf("%dx%d", opts.Viewport.Width, opts.Viewport.Height),
	})

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		opts:        opts,
		logger:      e.logger,
	}, nil
}

// runBound runs the first actions on a chromedp context, which allocates the
// browser or tab for it. That first Run must use the chromedp context itself
// because the resource lives as long as the context it was created with, so
// cancellation of ctx is honoured by abandoning the wait instead.
func runBound(ctx, target context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(target, actions...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = chromedp.Cancel(target)
		<-done
		return ctx.Err()
	}
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        LaunchOptions
	logger      logger.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a tab with the configured viewport, headers and observers.
func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	if b.ctx.Err() != nil {
		return nil, ErrClosed
	}

	pageCtx, pageCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{
		ctx:      pageCtx,
		cancel:   pageCancel,
		opts:     b.opts,
		observer: b.opts.Observer,
	}
	chromedp.ListenTarget(pageCtx, p.handleEvent)

	setup := chromedp.Tasks{
		network.Enable(),
		runtime.Enable(),
		chromedp.EmulateViewport(int64(b.opts.Viewport.Width), int64(b.opts.Viewport.Height)),
	}
	if len(b.opts.ExtraHeaders) > 0 {
		headers := make(network.Headers, len(b.opts.ExtraHeaders))
		for k, v := range b.opts.ExtraHeaders {
			headers[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(headers))
	}

	if err := runBound(ctx, pageCtx, setup); err != nil {
		p.closed.Store(true)
		pageCancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return p, nil
}

// Close shuts the browser down and waits for the process to exit.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("failed to close browser: %w", err)
		}
		b.cancel()
		b.allocCancel()
	})
	return b.closeErr
}

type chromePage struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     LaunchOptions
	observer Observer
	closed   atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (p *chromePage) handleEvent(ev interface{}) {
	if p.observer == nil || p.closed.Load() {
		return
	}
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		p.observer.OnConsole(string(e.Type), consoleText(e.Args))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			p.observer.OnConsole("error", e.ExceptionDetails.Text)
		}
	case *network.EventRequestWillBeSent:
		if e.Request != nil {
			p.observer.OnRequest(e.Request.Method, e.Request.URL, string(e.Type))
		}
	case *network.EventResponseReceived:
		if e.Response != nil {
			p.observer.OnResponse(e.Response.URL, int(e.Response.Status))
		}
	case *network.EventLoadingFailed:
		p.observer.OnRequestFailed(string(e.RequestID), e.ErrorText)
	}
}

// consoleText renders console arguments the way a devtools console would.
func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		if len(arg.Value) > 0 {
			var s string
			if err := json.Unmarshal([]byte(arg.Value), &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
			continue
		}
		parts = append(parts, arg.Description)
	}
	return strings.Join(parts, " ")
}

// run executes actions bounded by timeout and by both the page and ctx.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return ErrClosed
	}

	opCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()

	if p.opts.SlowMo > 0 {
		t := time.NewTimer(p.opts.SlowMo)
		select {
		case <-t.C:
		case <-opCtx.Done():
			t.Stop()
			return p.stopped(ctx)
		}
	}

	runCtx, runCancel := context.WithTimeout(opCtx, timeout)
	defer runCancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || p.ctx.Err() != nil {
		return p.stopped(ctx)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
	}
	return err
}

// stopped reports why an operation was cut short: the caller's context
// error, or ErrClosed when the page went away underneath it.
func (p *chromePage) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.opts.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("type into %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Evaluate(ctx context.Context, script string, result interface{}) error {
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Evaluate(script, result)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (p *chromePage) Hover(ctx context.Context, selector string) error {
	var box *dom.BoxModel
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Dimensions(selector, &box, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			x, y, ok := quadCenter(box)
			if !ok {
				return fmt.Errorf("element %q has no layout box", selector)
			}
			return input.DispatchMouseEvent(input.MouseMoved, x, y).Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("hover %q: %w", selector, err)
	}
	return nil
}

// quadCenter returns the centre of the content quad of box.
func quadCenter(box *dom.BoxModel) (float64, float64, bool) {
	if box == nil || len(box.Content) < 8 {
		return 0, 0, false
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += box.Content[i]
		y += box.Content[i+1]
	}
	return x / 4, y / 4, true
}

func (p *chromePage) SelectOption(ctx context.Context, selector, value string) error {
	script, err := selectOptionScript(selector, value)
	if err != nil {
		return err
	}
	var selected bool
	err = p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Evaluate(script, &selected),
	)
	if err != nil {
		return fmt.Errorf("select %q on %q: %w", value, selector, err)
	}
	if !selected {
		return fmt.Errorf("select %q on %q: no such option", value, selector)
	}
	return nil
}

// selectOptionScript sets a <select> value through the DOM and fires the
// input and change events, which setting the node value over CDP does not.
func selectOptionScript(selector, value string) (string, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", err
	}
	val, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%[1]s);
	if (!el) { throw new Error("no element matches " + %[1]s); }
	el.value = %[2]s;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return el.value === %[2]s;
})()`, sel, val), nil
}

func (p *chromePage) SetValue(ctx context.Context, selector, value string) error {
	err := p.run(ctx, p.opts.ActionTimeout,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetJavascriptAttribute(selector, "value", value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("set value on %q: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.opts.ActionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return u, nil
}

// Close closes the tab. The browser stays open.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if err := chromedp.Cancel(p.ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.closeErr = fmt.Errorf("failed to close page: %w", err)
		}
		p.cancel()
	})
	return p.closeErr
}
