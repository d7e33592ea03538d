package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	closeGrace      = 5 * time.Second
	popupCloseGrace = 3 * time.Second
	isolatedWorld   = "avaluo"
)

// ChromeLauncher starts one Chrome process per browsing context
type ChromeLauncher struct {
	config   config.BrowserConfig
	logger   *logrus.Logger
	launched atomic.Int64
	active   atomic.Int64
}

// NewChromeLauncher creates a new chromedp launcher
func NewChromeLauncher(config config.BrowserConfig, logger *logrus.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		config: config,
		logger: logger,
	}
}

// Launch starts a browser with a single tab. ctx bounds the startup only.
func (l *ChromeLauncher) Launch(ctx context.Context) (BrowserContext, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", true),
		chromedp.Flag("disable-backgrounding-occluded-windows", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.Flag("disable-ipc-flooding-protection", true),
		chromedp.Flag("disable-features", "TranslateUI,VizDisplayCompositor,IsolateOrigins,site-per-process"),
		chromedp.WindowSize(l.config.WindowWidth, l.config.WindowHeight),
		chromedp.UserAgent(l.config.UserAgent),
	}

	if l.config.Headless {
		opts = append(opts, chromedp.Headless)
	}

	// Both contexts outlive ctx; only Close releases them.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser and must see tabCtx itself, a
	// derived timeout would tear the browser down when it expires.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx)
	}()

	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to start browser: %w", err)
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: browser startup: %v", ErrDriverTimeout, ctx.Err())
	}

	n := l.launched.Add(1)
	browser := &ChromeBrowserContext{
		id:          fmt.Sprintf("browser-%d-%d", time.Now().UnixNano(), n),
		targetID:    chromedp.FromContext(tabCtx).Target.TargetID,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		launcher:    l,
	}
	browser.logger = l.logger.WithField("browser_id", browser.id)
	browser.dismissDialogs(tabCtx)
	l.active.Add(1)

	browser.logger.Debug("Browser created successfully")
	return browser, nil
}

// GetStats returns launcher statistics
func (l *ChromeLauncher) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"launched_total":  l.launched.Load(),
		"active_browsers": l.active.Load(),
		"headless":        l.config.Headless,
	}
}

// ChromeBrowserContext implements BrowserContext on chromedp
type ChromeBrowserContext struct {
	id          string
	targetID    target.ID
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	launcher    *ChromeLauncher
	logger      *logrus.Entry
	closed      atomic.Bool

	dialogMu   sync.Mutex
	lastDialog string
}

// ID returns the browser context ID
func (c *ChromeBrowserContext) ID() string {
	return c.id
}

// dismissDialogs accepts every JavaScript dialog opened in ctx and keeps its text
func (c *ChromeBrowserContext) dismissDialogs(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}

		c.dialogMu.Lock()
		c.lastDialog = e.Message
		c.dialogMu.Unlock()
		c.logger.WithField("message", e.Message).Info("JavaScript dialog dismissed")

		go func() {
			if err := chromedp.Run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
				c.logger.WithError(err).Debug("Failed to dismiss dialog")
			}
		}()
	})
}

// LastDialog returns the text of the last dialog seen
func (c *ChromeBrowserContext) LastDialog() string {
	c.dialogMu.Lock()
	defer c.dialogMu.Unlock()
	return c.lastDialog
}

func (c *ChromeBrowserContext) run(ctx context.Context, actions ...chromedp.Action) error {
	return runBounded(c.tabCtx, ctx, &c.closed, actions...)
}

// runBounded runs actions on the chromedp context base, bounded by the
// deadline and cancellation of ctx.
func runBounded(base, ctx context.Context, closed *atomic.Bool, actions ...chromedp.Action) error {
	if closed.Load() {
		return ErrBrowserClosed
	}

	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(base, deadline)
	} else {
		runCtx, cancel = context.WithCancel(base)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if closed.Load() {
		return ErrBrowserClosed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDriverTimeout, err)
	}
	return err
}

func ctxError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDriverTimeout, ctx.Err())
	}
	return ctx.Err()
}

// Navigate navigates to a URL
func (c *ChromeBrowserContext) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

// URL returns the current location
func (c *ChromeBrowserContext) URL(ctx context.Context) (string, error) {
	var location string
	err := c.run(ctx, chromedp.Location(&location))
	return location, err
}

const selectOptionScript = `(function(sel, value) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.value = value;
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return el.value === value;
})(%s, %s)`

const optionsScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el || !el.options) return [];
	return Array.from(el.options).map(o => o.value).filter(v => v !== '');
})(%s)`

const activateScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.click();
	return true;
})(%s)`

const fetchScript = `(async function(url) {
	const res = await fetch(url, {credentials: 'include'});
	if (!res.ok) throw new Error('HTTP ' + res.status);
	const buf = new Uint8Array(await res.arrayBuffer());
	let bin = '';
	for (let i = 0; i < buf.length; i += 0x8000) {
		bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
	}
	return btoa(bin);
})(%s)`

// SelectOption sets a <select> value and fires its change handler
func (c *ChromeBrowserContext) SelectOption(ctx context.Context, selector, value string) error {
	var ok bool
	if err := c.run(ctx, chromedp.Evaluate(script(selectOptionScript, selector, value), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("option %q not available in %s", value, selector)
	}
	return nil
}

// Options returns the non-empty option values of a <select>
func (c *ChromeBrowserContext) Options(ctx context.Context, selector string) ([]string, error) {
	var values []string
	if err := c.run(ctx, chromedp.Evaluate(script(optionsScript, selector), &values)); err != nil {
		return nil, err
	}
	return values, nil
}

// Type replaces the content of an input
func (c *ChromeBrowserContext) Type(ctx context.Context, selector, text string) error {
	return c.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

// Click clicks on an element
func (c *ChromeBrowserContext) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Activate calls click() on the element from script
func (c *ChromeBrowserContext) Activate(ctx context.Context, selector string) error {
	var ok bool
	if err := c.run(ctx, chromedp.Evaluate(script(activateScript, selector), &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element %s not found", selector)
	}
	return nil
}

// ClickAndWaitNavigation clicks and waits for the main frame to navigate and fire load
func (c *ChromeBrowserContext) ClickAndWaitNavigation(ctx context.Context, selector string) error {
	loaded := make(chan struct{}, 1)
	lctx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()

	var navigated atomic.Bool
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				navigated.Store(true)
			}
		case *page.EventLoadEventFired:
			if navigated.Load() {
				select {
				case loaded <- struct{}{}:
				default:
				}
			}
		}
	})

	if err := c.Click(ctx, selector); err != nil {
		return err
	}

	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctxError(ctx)
	case <-c.tabCtx.Done():
		return ErrBrowserClosed
	}
}

// WaitForSelector waits for an element to be visible
func (c *ChromeBrowserContext) WaitForSelector(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// Attribute reads an attribute of the first element matching selector
func (c *ChromeBrowserContext) Attribute(ctx context.Context, selector, name string) (string, error) {
	var value string
	var ok bool
	if err := c.run(ctx, chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("attribute %s missing on %s", name, selector)
	}
	return value, nil
}

// Fetch downloads url from inside the page so the site cookies go along
func (c *ChromeBrowserContext) Fetch(ctx context.Context, url string) ([]byte, error) {
	var encoded string
	err := c.run(ctx, chromedp.Evaluate(script(fetchScript, url), &encoded,
		func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: invalid payload: %w", url, err)
	}
	return data, nil
}

// Cookies gets cookies
func (c *ChromeBrowserContext) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	result := make([]Cookie, 0, len(cookies))
	for _, ck := range cookies {
		result = append(result, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  int64(ck.Expires),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: ck.SameSite.String(),
		})
	}
	return result, nil
}

// ExpectPopup starts listening for a page target opened by this tab
func (c *ChromeBrowserContext) ExpectPopup(ctx context.Context) (PopupWaiter, error) {
	if c.closed.Load() {
		return nil, ErrBrowserClosed
	}

	wctx, cancel := context.WithCancel(c.tabCtx)
	ch := chromedp.WaitNewTarget(wctx, func(info *target.Info) bool {
		return info.Type == "page" && info.OpenerID == c.targetID
	})

	return &chromePopupWaiter{browser: c, ch: ch, cancel: cancel}, nil
}

// HTML gets HTML content from the page
func (c *ChromeBrowserContext) HTML(ctx context.Context) (string, error) {
	var html string
	err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Screenshot takes a full page screenshot
func (c *ChromeBrowserContext) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := c.run(ctx, chromedp.FullScreenshot(&buf, 90))
	return buf, err
}

// Close closes the tab and kills the browser process. It never waits on an
// in-flight call: the graceful tab shutdown is bounded, then the process is killed.
func (c *ChromeBrowserContext) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer c.launcher.active.Add(-1)

	done := make(chan struct{})
	go func() {
		c.tabCancel()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(closeGrace):
		err = fmt.Errorf("browser %s did not close within %s, killing it", c.id, closeGrace)
	}
	c.allocCancel()
	return err
}

func (c *ChromeBrowserContext) attachPopup(ctx context.Context, id target.ID) (*ChromePopup, error) {
	popCtx, popCancel := chromedp.NewContext(c.tabCtx, chromedp.WithTargetID(id))

	attached := make(chan error, 1)
	go func() {
		attached <- chromedp.Run(popCtx)
	}()

	select {
	case err := <-attached:
		if err != nil {
			popCancel()
			return nil, fmt.Errorf("attach popup: %w", err)
		}
	case <-ctx.Done():
		popCancel()
		return nil, ctxError(ctx)
	}

	c.dismissDialogs(popCtx)
	c.logger.WithField("target_id", id).Debug("Popup attached")
	return &ChromePopup{id: id, opener: c, ctx: popCtx, cancel: popCancel}, nil
}

type chromePopupWaiter struct {
	browser *ChromeBrowserContext
	ch      <-chan target.ID
	cancel  context.CancelFunc

	mu    sync.Mutex
	popup *ChromePopup
}

func (w *chromePopupWaiter) Wait(ctx context.Context) (Popup, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.popup != nil {
		return w.popup, nil
	}

	select {
	case id, ok := <-w.ch:
		if !ok {
			return nil, ErrBrowserClosed
		}
		popup, err := w.browser.attachPopup(ctx, id)
		if err != nil {
			return nil, err
		}
		w.popup = popup
		return popup, nil
	case <-ctx.Done():
		return nil, ctxError(ctx)
	case <-w.browser.tabCtx.Done():
		return nil, ErrBrowserClosed
	}
}

func (w *chromePopupWaiter) Cancel() {
	w.cancel()
}

// ChromePopup is a popup target attached through chromedp
type ChromePopup struct {
	id     target.ID
	opener *ChromeBrowserContext
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func (p *ChromePopup) run(ctx context.Context, actions ...chromedp.Action) error {
	return runBounded(p.ctx, ctx, &p.closed, actions...)
}

// URL returns the popup location
func (p *ChromePopup) URL(ctx context.Context) (string, error) {
	var location string
	err := p.run(ctx, chromedp.Location(&location))
	return location, err
}

// WaitLoad waits for the popup body
func (p *ChromePopup) WaitLoad(ctx context.Context) error {
	return p.run(ctx, chromedp.WaitReady("body", chromedp.ByQuery))
}

// Frames returns the frame tree flattened depth-first
func (p *ChromePopup) Frames(ctx context.Context) ([]Frame, error) {
	var tree *page.FrameTree
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		tree, err = page.GetFrameTree().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}

	var frames []Frame
	var walk func(t *page.FrameTree)
	walk = func(t *page.FrameTree) {
		if t == nil || t.Frame == nil {
			return
		}
		frames = append(frames, &ChromeFrame{popup: p, id: t.Frame.ID, url: t.Frame.URL})
		for _, child := range t.ChildFrames {
			walk(child)
		}
	}
	walk(tree)
	return frames, nil
}

// InterceptRequests reports request URLs and response MIME types of the popup
func (p *ChromePopup) InterceptRequests(ctx context.Context, fn func(url, mimeType string)) (func(), error) {
	lctx, cancel := context.WithCancel(p.ctx)
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Request != nil {
				fn(e.Request.URL, "")
			}
		case *network.EventResponseReceived:
			if e.Response != nil {
				fn(e.Response.URL, e.Response.MimeType)
			}
		}
	})

	if err := p.run(ctx, network.Enable()); err != nil {
		cancel()
		return nil, err
	}
	return cancel, nil
}

// RenderPDF prints the popup page
func (p *ChromePopup) RenderPDF(ctx context.Context) ([]byte, error) {
	var data []byte
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, _, err = page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		return err
	}))
	return data, err
}

// Close closes the popup target
func (p *ChromePopup) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer p.cancel()

	if p.opener.closed.Load() {
		return nil
	}
	closeCtx, cancel := context.WithTimeout(p.opener.tabCtx, popupCloseGrace)
	defer cancel()
	return chromedp.Run(closeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.CloseTarget(p.id).Do(ctx)
	}))
}

// ChromeFrame is one frame of a popup, evaluated in its own isolated world
type ChromeFrame struct {
	popup *ChromePopup
	id    cdp.FrameID
	url   string
}

// URL returns the frame URL
func (f *ChromeFrame) URL() string {
	return f.url
}

// HTML returns the serialized frame document
func (f *ChromeFrame) HTML(ctx context.Context) (string, error) {
	var html string
	err := f.Evaluate(ctx, `document.documentElement ? document.documentElement.outerHTML : ''`, &html)
	return html, err
}

// Evaluate runs script in the frame
func (f *ChromeFrame) Evaluate(ctx context.Context, script string, res interface{}) error {
	return f.popup.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		world, err := page.CreateIsolatedWorld(f.id).WithWorldName(isolatedWorld).Do(ctx)
		if err != nil {
			return fmt.Errorf("isolated world for frame %s: %w", f.id, err)
		}

		remote, exception, err := cdpruntime.Evaluate(script).
			WithContextID(world).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exception != nil {
			return exception
		}
		if res == nil || remote == nil || len(remote.Value) == 0 {
			return nil
		}
		return json.Unmarshal(remote.Value, res)
	}))
}

// script formats a JS template with JSON-encoded string arguments
func script(format string, args ...string) string {
	quoted := make([]interface{}, len(args))
	for i, arg := range args {
		b, _ := json.Marshal(arg)
		quoted[i] = string(b)
	}
	return fmt.Sprintf(format, quoted...)
}
