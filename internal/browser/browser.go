package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// Options configures the headless browser process.
type Options struct {
	ExecPath        string // chrome binary, empty to look it up in PATH
	Proxy           string // proxy server, e.g. http://proxy:3128
	Headless        bool
	NoSandbox       bool
	ConsoleLogLimit int // console messages kept per page
}

// Browser is a running headless Chrome instance.
type Browser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        Options
}

// New starts a browser process.
func New(ctx context.Context, opts Options) (*Browser, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Run with no actions to start the process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &Browser{
		ctx:         browserCtx,
		cancel:      cancel,
		cancelAlloc: cancelAlloc,
		opts:        opts,
	}, nil
}

// Close stops the browser process.
func (b *Browser) Close() error {
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()

	if err != nil && !strings.Contains(err.Error(), context.Canceled.Error()) {
		return fmt.Errorf("failed to close browser: %w", err)
	}

	return nil
}

// NewPage opens a new tab with console and page events enabled.
func (b *Browser) NewPage(ctx context.Context) (*Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)

	p := &Page{
		ctx:     tabCtx,
		cancel:  cancel,
		console: NewConsoleLog(b.opts.ConsoleLogLimit),
	}

	chromedp.ListenTarget(tabCtx, p.onEvent)

	// The first Run attaches the tab and starts its event loop, which lives
	// as long as the context of that Run. It must be the tab context itself.
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(tabCtx, runtime.Enable(), page.Enable(), network.Enable())
	stop()
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return p, nil
}

// Page is a single browser tab. All methods are bounded by the context
// passed to them; Close may be called from any goroutine.
type Page struct {
	ctx     context.Context
	cancel  context.CancelFunc
	console *ConsoleLog

	closeOnce sync.Once
	closeErr  error
}

// run executes actions on the tab, aborting when ctx is done.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}

// onEvent collects console output and uncaught exceptions.
func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		msg := model.ConsoleMessage{Type: string(e.Type), Text: consoleText(e.Args)}
		if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
			f := e.StackTrace.CallFrames[0]
			msg.Location = model.ConsoleLocation{URL: f.URL, LineNumber: f.LineNumber, ColumnNumber: f.ColumnNumber}
		}
		p.console.Add(msg)
	case *runtime.EventExceptionThrown:
		d := e.ExceptionDetails
		if d == nil {
			return
		}
		text := d.Text
		if d.Exception != nil && d.Exception.Description != "" {
			text = d.Exception.Description
		}
		p.console.Add(model.ConsoleMessage{
			Type:     "error",
			Text:     text,
			Location: model.ConsoleLocation{URL: d.URL, LineNumber: d.LineNumber, ColumnNumber: d.ColumnNumber},
		})
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		switch {
		case a == nil:
		case len(a.Value) > 0:
			var s string
			if err := json.Unmarshal(a.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(a.Value))
			}
		case a.Description != "":
			parts = append(parts, a.Description)
		default:
			parts = append(parts, string(a.Type))
		}
	}

	return strings.Join(parts, " ")
}

// SetViewport resizes the viewport and sets the device scale factor.
func (p *Page) SetViewport(ctx context.Context, width, height int, scale float64) error {
	if scale <= 0 {
		scale = 1
	}

	return p.run(ctx, emulation.SetDeviceMetricsOverride(int64(width), int64(height), scale, false))
}

// EmulateDarkMode sets the prefers-color-scheme media feature.
func (p *Page) EmulateDarkMode(ctx context.Context, dark bool) error {
	scheme := "light"
	if dark {
		scheme = "dark"
	}

	return p.run(ctx, emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{
		{Name: "prefers-color-scheme", Value: scheme},
	}))
}

// SetExtraHeaders sends headers with every request of the page.
func (p *Page) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}

	return p.run(ctx, network.SetExtraHTTPHeaders(h))
}

// SetUserAgent overrides the user agent of the page.
func (p *Page) SetUserAgent(ctx context.Context, ua string) error {
	return p.run(ctx, emulation.SetUserAgentOverride(ua))
}

// BypassCSP disables the Content-Security-Policy of visited documents so
// injected styles and scripts run.
func (p *Page) BypassCSP(ctx context.Context) error {
	return p.run(ctx, page.SetBypassCSP(true))
}

// ClearCookies removes every browser cookie.
func (p *Page) ClearCookies(ctx context.Context) error {
	return p.run(ctx, network.ClearBrowserCookies())
}

// SetCookies installs cookies before navigation.
func (p *Page) SetCookies(ctx context.Context, cookies []model.Cookie) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			expires := cdp.TimeSinceEpoch(c.Expires)
			err := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithExpires(&expires).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Navigate loads url and waits for the load event or the timeout.
func (p *Page) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	return nil
}

// Click clicks the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// ClickAndWaitLoad clicks selector and waits for the next load event.
func (p *Page) ClickAndWaitLoad(ctx context.Context, selector string) error {
	loaded := make(chan struct{}, 1)

	listenCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	chromedp.ListenTarget(listenCtx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case loaded <- struct{}{}:
			default:
			}
		}
	})

	if err := p.Click(ctx, selector); err != nil {
		return err
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Type sends text as key events to the element matching selector.
func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery, chromedp.NodeVisible))
}

// WaitVisible waits until selector matches a visible element.
func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Evaluate runs a script and decodes its result into res. Promises are
// awaited. A nil res discards the result.
func (p *Page) Evaluate(ctx context.Context, expr string, res any) error {
	return p.run(ctx, chromedp.Evaluate(expr, res, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
}

// Call invokes a function expression with JSON encoded arguments.
func (p *Page) Call(ctx context.Context, fn string, res any, args ...any) error {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encode argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}

	return p.Evaluate(ctx, "("+fn+")("+strings.Join(encoded, ",")+")", res)
}

// Screenshot captures the viewport as PNG, including content beyond the
// visible window.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte

	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithFromSurface(true).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}

	return buf, nil
}

// HTML returns the outer HTML of the document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("get html: %w", err)
	}

	return html, nil
}

// MHTML returns a single-file MHTML archive of the page.
func (p *Page) MHTML(ctx context.Context) (string, error) {
	var data string

	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, err = page.CaptureSnapshot().WithFormat(page.CaptureSnapshotFormatMhtml).Do(ctx)
		return err
	}))
	if err != nil {
		return "", fmt.Errorf("capture mhtml: %w", err)
	}

	return data, nil
}

// Console drains the console messages collected so far.
func (p *Page) Console() ([]model.ConsoleMessage, int) {
	return p.console.Drain()
}

// Close closes the tab. It is safe to call more than once and
// concurrently with a running action, which is then aborted.
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()

		select {
		case p.closeErr = <-done:
		case <-closeCtx.Done():
			p.closeErr = closeCtx.Err()
		}

		p.cancel()

		if p.closeErr != nil {
			zlog.Logger.Warn().Err(p.closeErr).Msg("page did not close gracefully")
		}
	})

	return p.closeErr
}
