package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/nexconsult/avaluo-api/internal/models"
)

const (
	testCaptchaSrc = "/avalu_cgi/captcha.png"
	testCaptchaURL = "https://zeus.sii.cl/avalu_cgi/br/brc110.sh?opcion=captcha"
	testDocURL     = "https://zeus.sii.cl/avalu_cgi/br/brc111_pdf.sh?rol=500-295"
	testAnswer     = "4821"
)

var (
	testPNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	testPDF = []byte("%PDF-1.4\n1 0 obj certificate")
)

var testLocator = models.Locator{Region: "06", Comuna: "06101", Manzana: "500", Predio: "295"}

func testConfig() *config.Config {
	return &config.Config{
		Site: config.DefaultSite(),
		Browser: config.BrowserConfig{
			LaunchTimeout:     time.Second,
			NavigationTimeout: time.Second,
			SelectorTimeout:   200 * time.Millisecond,
			CaptchaTimeout:    200 * time.Millisecond,
			ActionTimeout:     200 * time.Millisecond,
			PopupTimeout:      50 * time.Millisecond,
			PopupLoadTimeout:  50 * time.Millisecond,
			FetchTimeout:      200 * time.Millisecond,
			ClickAttempts:     3,
			ClickGrace:        5 * time.Millisecond,
			ClickBackoff:      time.Millisecond,
			FrameRounds:       3,
			FrameDelay:        time.Millisecond,
		},
		Session: config.SessionConfig{TTL: time.Minute, SweepInterval: time.Minute},
		Retry:   config.RetryConfig{MaxAttempts: 3},
	}
}

// fakeSite scripts how the legacy site behaves for every browser launched against it
type fakeSite struct {
	mu sync.Mutex

	navErr        error
	submitNavErr  error
	landingURL    string
	captchaMissed bool
	captcha       []byte

	// comunas returns the comuna options seen on the given poll, starting at 1
	comunas func(poll int) []string

	clickErr      error
	directOpens   bool
	activateOpens bool
	dialog        string

	// popupFor returns the popup opened for a typed answer, nil for none
	popupFor  func(value string) *fakePopup
	documents map[string][]byte
}

func newFakeSite() *fakeSite {
	site := &fakeSite{
		landingURL:  testCaptchaURL,
		captcha:     testPNG,
		directOpens: true,
		documents:   map[string][]byte{testDocURL: testPDF},
		comunas:     func(int) []string { return []string{"06101", "06102"} },
	}
	site.popupFor = func(value string) *fakePopup {
		if value != testAnswer {
			return newFakePopup(&fakeFrame{url: "https://zeus.sii.cl/avalu_cgi/br/error.sh"})
		}
		return newFakePopup(&fakeFrame{url: "https://zeus.sii.cl/avalu_cgi/br/brc111.sh"}, &fakeFrame{url: testDocURL})
	}
	return site
}

type fakeLauncher struct {
	site      *fakeSite
	launchErr error

	mu       sync.Mutex
	browsers []*fakeBrowser
}

func newFakeLauncher(site *fakeSite) *fakeLauncher {
	return &fakeLauncher{site: site}
}

func (l *fakeLauncher) Launch(ctx context.Context) (BrowserContext, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := newFakeBrowser(fmt.Sprintf("fake-%d", len(l.browsers)+1), l.site)
	l.browsers = append(l.browsers, b)
	return b, nil
}

func (l *fakeLauncher) opened() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

// closed counts browsers closed at least once; closedTwice any closed more than once
func (l *fakeLauncher) closed() (closed int, closedTwice int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.browsers {
		switch n := b.closeCount(); {
		case n == 1:
			closed++
		case n > 1:
			closed++
			closedTwice++
		}
	}
	return closed, closedTwice
}

type fakeBrowser struct {
	id   string
	site *fakeSite

	mu          sync.Mutex
	url         string
	typed       map[string]string
	selected    map[string]string
	optionPolls int
	clicks      int
	activates   int
	fetched     []string
	closes      int
	closeErr    error
	dialog      string
	waiter      *fakeWaiter
	lostPopup   bool
	blockHTML   bool
}

func newFakeBrowser(id string, site *fakeSite) *fakeBrowser {
	if site == nil {
		site = newFakeSite()
	}
	return &fakeBrowser{
		id:       id,
		site:     site,
		typed:    make(map[string]string),
		selected: make(map[string]string),
	}
}

func (b *fakeBrowser) ID() string { return b.id }

func (b *fakeBrowser) Navigate(ctx context.Context, url string) error {
	if b.site.navErr != nil {
		return b.site.navErr
	}
	b.mu.Lock()
	b.url = url
	b.mu.Unlock()
	return nil
}

func (b *fakeBrowser) URL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, nil
}

func (b *fakeBrowser) SelectOption(ctx context.Context, selector, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected[selector] = value
	return nil
}

func (b *fakeBrowser) Options(ctx context.Context, selector string) ([]string, error) {
	b.mu.Lock()
	b.optionPolls++
	poll := b.optionPolls
	b.mu.Unlock()
	return b.site.comunas(poll), nil
}

func (b *fakeBrowser) Type(ctx context.Context, selector, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.typed[selector] = text
	return nil
}

func (b *fakeBrowser) Click(ctx context.Context, selector string) error {
	b.mu.Lock()
	b.clicks++
	b.mu.Unlock()

	if b.site.clickErr != nil {
		return b.site.clickErr
	}
	if b.site.directOpens {
		b.open()
	}
	return nil
}

func (b *fakeBrowser) Activate(ctx context.Context, selector string) error {
	b.mu.Lock()
	b.activates++
	b.mu.Unlock()

	if b.site.clickErr != nil {
		return b.site.clickErr
	}
	if b.site.activateOpens {
		b.open()
	}
	return nil
}

func (b *fakeBrowser) open() {
	b.mu.Lock()
	value := b.typed[b.captchaInput()]
	waiter := b.waiter
	b.mu.Unlock()

	popup := b.site.popupFor(value)
	if popup == nil {
		if b.site.dialog != "" {
			b.mu.Lock()
			b.dialog = b.site.dialog
			b.mu.Unlock()
		}
		return
	}
	if waiter == nil {
		b.mu.Lock()
		b.lostPopup = true
		b.mu.Unlock()
		return
	}
	waiter.deliver(popup)
}

func (b *fakeBrowser) captchaInput() string {
	return config.DefaultSite().CaptchaInputSelector
}

func (b *fakeBrowser) ClickAndWaitNavigation(ctx context.Context, selector string) error {
	if b.site.submitNavErr != nil {
		return b.site.submitNavErr
	}
	b.mu.Lock()
	b.url = b.site.landingURL
	b.mu.Unlock()
	return nil
}

func (b *fakeBrowser) WaitForSelector(ctx context.Context, selector string) error {
	if selector == config.DefaultSite().CaptchaImageSelector && b.site.captchaMissed {
		<-ctx.Done()
		return fmt.Errorf("%w: %v", ErrDriverTimeout, ctx.Err())
	}
	return nil
}

func (b *fakeBrowser) Attribute(ctx context.Context, selector, name string) (string, error) {
	return testCaptchaSrc, nil
}

func (b *fakeBrowser) Fetch(ctx context.Context, url string) ([]byte, error) {
	b.mu.Lock()
	b.fetched = append(b.fetched, url)
	b.mu.Unlock()

	if url == testCaptchaSrc {
		return b.site.captcha, nil
	}
	b.site.mu.Lock()
	data, ok := b.site.documents[url]
	b.site.mu.Unlock()
	if !ok {
		return nil, errors.New("HTTP 404")
	}
	return data, nil
}

func (b *fakeBrowser) fetchedURLs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.fetched...)
}

func (b *fakeBrowser) Cookies(ctx context.Context) ([]Cookie, error) {
	return []Cookie{{Name: "NETSCAPE_LIVEWIRE.locexp", Domain: "zeus.sii.cl"}}, nil
}

func (b *fakeBrowser) ExpectPopup(ctx context.Context) (PopupWaiter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiter = &fakeWaiter{ch: make(chan Popup, 1)}
	return b.waiter, nil
}

func (b *fakeBrowser) LastDialog() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dialog
}

func (b *fakeBrowser) HTML(ctx context.Context) (string, error) {
	if b.blockHTML {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return "<html><body>captcha</body></html>", nil
}

func (b *fakeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return testPNG, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return b.closeErr
}

func (b *fakeBrowser) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

type fakeWaiter struct {
	ch        chan Popup
	mu        sync.Mutex
	popup     Popup
	cancelled bool
}

func (w *fakeWaiter) deliver(p Popup) {
	select {
	case w.ch <- p:
	default:
	}
}

func (w *fakeWaiter) Wait(ctx context.Context) (Popup, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.popup != nil {
		return w.popup, nil
	}
	select {
	case p := <-w.ch:
		w.popup = p
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *fakeWaiter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
}

type fakePopup struct {
	mu          sync.Mutex
	frames      []Frame
	framesAfter int // rounds before frames beyond the first appear
	rounds      int
	requests    [][2]string
	rendered    []byte
	closes      int
	waitLoadErr error
}

func newFakePopup(frames ...*fakeFrame) *fakePopup {
	p := &fakePopup{}
	for _, f := range frames {
		p.frames = append(p.frames, f)
	}
	return p
}

func (p *fakePopup) URL(ctx context.Context) (string, error) {
	if len(p.frames) == 0 {
		return "about:blank", nil
	}
	return p.frames[0].URL(), nil
}

func (p *fakePopup) WaitLoad(ctx context.Context) error {
	return p.waitLoadErr
}

func (p *fakePopup) Frames(ctx context.Context) ([]Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rounds++
	if p.rounds <= p.framesAfter && len(p.frames) > 0 {
		return p.frames[:1], nil
	}
	return append([]Frame(nil), p.frames...), nil
}

func (p *fakePopup) InterceptRequests(ctx context.Context, fn func(url, mimeType string)) (func(), error) {
	for _, r := range p.requests {
		fn(r[0], r[1])
	}
	return func() {}, nil
}

func (p *fakePopup) RenderPDF(ctx context.Context) ([]byte, error) {
	if p.rendered == nil {
		return nil, errors.New("render failed")
	}
	return p.rendered, nil
}

func (p *fakePopup) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePopup) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeFrame struct {
	url  string
	html string

	mu        sync.Mutex
	htmlCalls int
}

func (f *fakeFrame) URL() string { return f.url }

func (f *fakeFrame) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.htmlCalls++
	return f.html, nil
}

func (f *fakeFrame) Evaluate(ctx context.Context, script string, res interface{}) error {
	return nil
}

func (f *fakeFrame) viewerCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.htmlCalls
}

// fakeOracle answers from a script, repeating the last answer
type fakeOracle struct {
	mu      sync.Mutex
	answers []string
	err     error
	calls   int
}

func (o *fakeOracle) Solve(ctx context.Context, image []byte, mimeType string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil {
		return "", o.err
	}
	i := o.calls - 1
	if i >= len(o.answers) {
		i = len(o.answers) - 1
	}
	return o.answers[i], nil
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

type testFlow struct {
	orchestrator *Orchestrator
	store        *SessionStore
	launcher     *fakeLauncher
	site         *fakeSite
}

func newTestFlow(t *testing.T, cfg *config.Config, site *fakeSite, oracle CaptchaOracle) *testFlow {
	t.Helper()
	log := logger.Discard()

	store := NewSessionStore(cfg.Session.TTL, nil, log)
	launcher := newFakeLauncher(site)

	form, err := NewFormStage(cfg.Site, cfg.Browser, launcher, store, log)
	if err != nil {
		t.Fatalf("form stage: %v", err)
	}
	extractor, err := NewExtractorService(cfg.Site, cfg.Browser, nil, log)
	if err != nil {
		t.Fatalf("extractor: %v", err)
	}

	orchestrator := NewOrchestrator(Stages{
		Form:      form,
		Submit:    NewSubmitStage(cfg.Site, cfg.Browser, log),
		Extractor: extractor,
	}, oracle, store, nil, cfg, nil, log)

	return &testFlow{orchestrator: orchestrator, store: store, launcher: launcher, site: site}
}

// assertBalanced checks every launched browser was closed exactly once
func (f *testFlow) assertBalanced(t *testing.T) {
	t.Helper()
	closed, twice := f.launcher.closed()
	if closed != f.launcher.opened() || twice != 0 {
		t.Fatalf("browsers opened=%d closed=%d closed-twice=%d", f.launcher.opened(), closed, twice)
	}
}
