package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hairizuan-noorazman/ui-orchestrator/engine"
)

// Op names a fake engine operation.
type Op string

const (
	OpLaunch          Op = "launch"
	OpNewPage         Op = "newPage"
	OpNavigate        Op = "navigate"
	OpClick           Op = "click"
	OpType            Op = "type"
	OpWaitForSelector Op = "waitForSelector"
	OpEvaluate        Op = "evaluate"
	OpHover           Op = "hover"
	OpSelectOption    Op = "selectOption"
	OpSetValue        Op = "setValue"
	OpScreenshot      Op = "screenshot"
	OpURL             Op = "url"
)

// Call is one recorded page operation.
type Call struct {
	Op       Op
	Selector string
	Value    string
}

// FakeEngine is an in-memory engine.Engine. It counts resource opens and
// closes, records every page call, and can fail or block any operation.
type FakeEngine struct {
	mu sync.Mutex

	// ScreenshotData is returned by Screenshot.
	ScreenshotData []byte
	// PageCloseErr and BrowserCloseErr are returned by Close.
	PageCloseErr    error
	BrowserCloseErr error

	errs    map[Op]func(n int) error
	blocks  map[Op]chan struct{}
	holds   map[Op]hold
	panics  map[Op]bool
	calls   map[Op]int
	log     []Call
	options []engine.LaunchOptions

	launches       int
	pagesOpened    int
	pagesClosed    int
	browsersClosed int
	closeOrder     []string
	url            string
}

// NewFakeEngine returns a FakeEngine where every operation succeeds.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		ScreenshotData: []byte("\x89PNG\r\n\x1a\nfake"),
		errs:           make(map[Op]func(int) error),
		blocks:         make(map[Op]chan struct{}),
		holds:          make(map[Op]hold),
		panics:         make(map[Op]bool),
		calls:          make(map[Op]int),
	}
}

// FailWith makes every call of op return err.
func (f *FakeEngine) FailWith(op Op, err error) {
	f.FailFunc(op, func(int) error { return err })
}

// FailFunc makes op return fn(n), where n is the 1-based call number.
func (f *FakeEngine) FailFunc(op Op, fn func(n int) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = fn
}

// Block makes op wait until its context is cancelled. The returned channel
// is closed when the first blocked call starts.
func (f *FakeEngine) Block(op Op) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.blocks[op] = ch
	return ch
}

type hold struct {
	entered chan struct{}
	release chan struct{}
}

// Hold makes the next call of op wait until release is called, whatever
// happens to its context, and then succeed. The returned channel is closed
// when the held call starts. release may be called more than once.
func (f *FakeEngine) Hold(op Op) (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := hold{entered: make(chan struct{}), release: make(chan struct{})}
	f.holds[op] = h
	var once sync.Once
	return h.entered, func() { once.Do(func() { close(h.release) }) }
}

// Panic makes op panic.
func (f *FakeEngine) Panic(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[op] = true
}

// enter records a call and applies the configured behaviour for op.
func (f *FakeEngine) enter(ctx context.Context, c Call) error {
	f.mu.Lock()
	f.calls[c.Op]++
	n := f.calls[c.Op]
	if c.Op != OpLaunch && c.Op != OpNewPage {
		f.log = append(f.log, c)
	}
	errFn := f.errs[c.Op]
	block, blocking := f.blocks[c.Op]
	if blocking {
		delete(f.blocks, c.Op)
	}
	held, holding := f.holds[c.Op]
	if holding {
		delete(f.holds, c.Op)
	}
	shouldPanic := f.panics[c.Op]
	f.mu.Unlock()

	if shouldPanic {
		panic(fmt.Sprintf("fake engine: %s panicked", c.Op))
	}
	if blocking {
		close(block)
		<-ctx.Done()
		return ctx.Err()
	}
	if holding {
		close(held.entered)
		<-held.release
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if errFn != nil {
		return errFn(n)
	}
	return nil
}

// Calls is how many times op was invoked.
func (f *FakeEngine) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// CallLog is every page operation in call order.
func (f *FakeEngine) CallLog() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.log...)
}

// Launches is the number of successful launches.
func (f *FakeEngine) Launches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

// PagesOpened is the number of pages successfully opened.
func (f *FakeEngine) PagesOpened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pagesOpened
}

// PagesClosed is the number of page Close calls.
func (f *FakeEngine) PagesClosed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pagesClosed
}

// BrowsersClosed is the number of browser Close calls.
func (f *FakeEngine) BrowsersClosed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.browsersClosed
}

// CloseOrder lists "page" and "browser" in the order they were closed.
func (f *FakeEngine) CloseOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closeOrder...)
}

// LaunchOptions returns the options of every launch attempt.
func (f *FakeEngine) LaunchOptions() []engine.LaunchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.LaunchOptions(nil), f.options...)
}

func (f *FakeEngine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Browser, error) {
	f.mu.Lock()
	f.options = append(f.options, opts)
	f.mu.Unlock()

	if err := f.enter(ctx, Call{Op: OpLaunch}); err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.launches++
	f.mu.Unlock()
	return &fakeBrowser{engine: f, opts: opts}, nil
}

type fakeBrowser struct {
	engine *FakeEngine
	opts   engine.LaunchOptions
	closed bool
}

func (b *fakeBrowser) NewPage(ctx context.Context) (engine.Page, error) {
	if err := b.engine.enter(ctx, Call{Op: OpNewPage}); err != nil {
		return nil, err
	}
	b.engine.mu.Lock()
	defer b.engine.mu.Unlock()
	if b.closed {
		return nil, engine.ErrClosed
	}
	b.engine.pagesOpened++
	return &fakePage{engine: b.engine, observer: b.opts.Observer}, nil
}

func (b *fakeBrowser) Close() error {
	f := b.engine
	f.mu.Lock()
	defer f.mu.Unlock()
	b.closed = true
	f.browsersClosed++
	f.closeOrder = append(f.closeOrder, "browser")
	return f.BrowserCloseErr
}

type fakePage struct {
	engine   *FakeEngine
	observer engine.Observer
	mu       sync.Mutex
	closed   bool
}

func (p *fakePage) do(ctx context.Context, c Call) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return engine.ErrClosed
	}
	return p.engine.enter(ctx, c)
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := p.do(ctx, Call{Op: OpNavigate, Value: url}); err != nil {
		return err
	}
	p.engine.mu.Lock()
	p.engine.url = url
	p.engine.mu.Unlock()

	if p.observer != nil {
		p.observer.OnRequest("GET", url, "Document")
		p.observer.OnResponse(url, 200)
		p.observer.OnConsole("log", "loaded "+url)
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.do(ctx, Call{Op: OpClick, Selector: selector})
}

func (p *fakePage) Type(ctx context.Context, selector, text string) error {
	return p.do(ctx, Call{Op: OpType, Selector: selector, Value: text})
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string) error {
	return p.do(ctx, Call{Op: OpWaitForSelector, Selector: selector})
}

func (p *fakePage) Evaluate(ctx context.Context, script string, result interface{}) error {
	return p.do(ctx, Call{Op: OpEvaluate, Value: script})
}

func (p *fakePage) Hover(ctx context.Context, selector string) error {
	return p.do(ctx, Call{Op: OpHover, Selector: selector})
}

func (p *fakePage) SelectOption(ctx context.Context, selector, value string) error {
	return p.do(ctx, Call{Op: OpSelectOption, Selector: selector, Value: value})
}

func (p *fakePage) SetValue(ctx context.Context, selector, value string) error {
	return p.do(ctx, Call{Op: OpSetValue, Selector: selector, Value: value})
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.do(ctx, Call{Op: OpScreenshot}); err != nil {
		return nil, err
	}
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return append([]byte(nil), p.engine.ScreenshotData...), nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	if err := p.do(ctx, Call{Op: OpURL}); err != nil {
		return "", err
	}
	p.engine.mu.Lock()
	defer p.engine.mu.Unlock()
	return p.engine.url, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	f := p.engine
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pagesClosed++
	f.closeOrder = append(f.closeOrder, "page")
	return f.PageCloseErr
}
