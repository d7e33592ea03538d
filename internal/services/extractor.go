package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/sirupsen/logrus"
)

// Extraction strategies, in priority order
const (
	StrategyDirectURL   = "direct_url"
	StrategyViewer      = "embedded_viewer"
	StrategyIntercepted = "intercepted_request"
	StrategyRender      = "render"
)

// ExtractorService pulls the generated document out of the popup
type ExtractorService struct {
	browser    config.BrowserConfig
	docPattern *regexp.Regexp
	metrics    *Metrics
	logger     *logrus.Logger
}

// NewExtractorService creates a new extractor service
func NewExtractorService(site config.SiteConfig, browser config.BrowserConfig, metrics *Metrics, logger *logrus.Logger) (*ExtractorService, error) {
	docPattern, err := regexp.Compile(site.DocumentURLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid document url pattern: %w", err)
	}

	return &ExtractorService{
		browser:    browser,
		docPattern: docPattern,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Extract returns the document carried by popup. Every fetch goes through
// the session browser so the site cookies are reused. The popup is closed
// before Extract returns.
//
// Strategies run in order over all frames: a direct document URL in any
// frame wins over a viewer element in an earlier frame, and intercepted
// responses are consulted only after both found nothing.
func (e *ExtractorService) Extract(ctx context.Context, session *Session, popup Popup) ([]byte, error) {
	logger := e.logger.WithField("session_id", session.ID)
	defer func() {
		if err := popup.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close popup")
		}
	}()

	requests := newRequestCollector(e.docPattern)
	stop, err := popup.InterceptRequests(ctx, requests.observe)
	if err != nil {
		logger.WithError(err).Warn("Request interception unavailable")
	} else {
		defer stop()
	}

	loadCtx, cancel := context.WithTimeout(ctx, e.browser.PopupLoadTimeout)
	if err := popup.WaitLoad(loadCtx); err != nil {
		logger.WithError(err).Debug("Popup load not confirmed, proceeding")
	}
	cancel()

	frames := e.discoverFrames(ctx, popup, logger)
	source := session.Browser()

	for _, frame := range frames {
		if data, ok := e.directURL(ctx, source, frame); ok {
			return e.found(StrategyDirectURL, frame.URL(), data, logger), nil
		}
	}

	for _, frame := range frames {
		if data, from, ok := e.embeddedViewer(ctx, source, frame, logger); ok {
			return e.found(StrategyViewer, from, data, logger), nil
		}
	}

	for _, u := range requests.URLs() {
		if data, ok := e.fetchDocument(ctx, source, u); ok {
			return e.found(StrategyIntercepted, u, data, logger), nil
		}
	}

	if e.browser.RenderFallback {
		renderCtx, cancel := context.WithTimeout(ctx, e.browser.FetchTimeout)
		data, err := popup.RenderPDF(renderCtx)
		cancel()
		if err == nil && len(data) > 0 {
			return e.found(StrategyRender, "", data, logger), nil
		}
		logger.WithError(err).Debug("Render fallback failed")
	}

	return nil, fmt.Errorf("%w: %d frames, %d intercepted urls", ErrArtifactNotFound, len(frames), len(requests.URLs()))
}

func (e *ExtractorService) found(strategy, from string, data []byte, logger *logrus.Entry) []byte {
	e.metrics.StrategyHit(strategy)
	logger.WithFields(logrus.Fields{
		"strategy": strategy,
		"url":      from,
		"bytes":    len(data),
	}).Info("Document extracted")
	return data
}

// discoverFrames polls the frame tree until sub-frames attach or the main
// frame is itself a document. The last tree seen is used either way.
func (e *ExtractorService) discoverFrames(ctx context.Context, popup Popup, logger *logrus.Entry) []Frame {
	var frames []Frame

	err := Retry(ctx, Backoff{Attempts: e.browser.FrameRounds, Delay: e.browser.FrameDelay}, func(ctx context.Context, attempt int) (bool, error) {
		roundCtx, cancel := context.WithTimeout(ctx, e.browser.ActionTimeout)
		found, err := popup.Frames(roundCtx)
		cancel()
		if err != nil {
			return false, err
		}

		frames = found
		if len(found) > 1 || (len(found) == 1 && e.docPattern.MatchString(found[0].URL())) {
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		logger.WithError(err).WithField("frames", len(frames)).Debug("Frame discovery ended without sub-frames")
	}

	return frames
}

func (e *ExtractorService) directURL(ctx context.Context, source BrowserContext, frame Frame) ([]byte, bool) {
	if !e.docPattern.MatchString(frame.URL()) {
		return nil, false
	}
	return e.fetchDocument(ctx, source, frame.URL())
}

// embeddedViewer looks for viewer, object, embedding frame and anchor
// elements pointing at a document. Inline data URLs are decoded directly.
func (e *ExtractorService) embeddedViewer(ctx context.Context, source BrowserContext, frame Frame, logger *logrus.Entry) ([]byte, string, bool) {
	htmlCtx, cancel := context.WithTimeout(ctx, e.browser.ActionTimeout)
	html, err := frame.HTML(htmlCtx)
	cancel()
	if err != nil || html == "" {
		logger.WithError(err).WithField("frame", frame.URL()).Debug("Frame HTML unavailable")
		return nil, "", false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", false
	}

	for _, candidate := range e.viewerURLs(doc, frame.URL()) {
		if data, ok := decodeDataURL(candidate); ok {
			return data, "data:", true
		}
		if data, ok := e.fetchDocument(ctx, source, candidate); ok {
			return data, candidate, true
		}
	}
	return nil, "", false
}

// viewerURLs lists candidate document URLs of doc resolved against base, without duplicates
func (e *ExtractorService) viewerURLs(doc *goquery.Document, base string) []string {
	var raw []string

	doc.Find(`embed[src]`).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, s.AttrOr("src", ""))
	})
	doc.Find(`object[data]`).Each(func(_ int, s *goquery.Selection) {
		raw = append(raw, s.AttrOr("data", ""))
	})
	doc.Find(`iframe[src], frame[src]`).Each(func(_ int, s *goquery.Selection) {
		if src := s.AttrOr("src", ""); e.docPattern.MatchString(src) || strings.HasPrefix(src, "data:") {
			raw = append(raw, src)
		}
	})
	doc.Find(`a[href]`).Each(func(_ int, s *goquery.Selection) {
		if href := s.AttrOr("href", ""); e.docPattern.MatchString(href) {
			raw = append(raw, href)
		}
	})

	baseURL, _ := url.Parse(base)
	seen := make(map[string]bool)
	urls := make([]string, 0, len(raw))
	for _, r := range raw {
		resolved := resolveURL(baseURL, strings.TrimSpace(r))
		if resolved == "" || seen[resolved] {
			continue
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	}
	return urls
}

func (e *ExtractorService) fetchDocument(ctx context.Context, source BrowserContext, u string) ([]byte, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.browser.FetchTimeout)
	defer cancel()

	data, err := source.Fetch(fetchCtx, u)
	if err != nil {
		e.logger.WithError(err).WithField("url", u).Debug("Document fetch failed")
		return nil, false
	}
	return data, isDocument(data)
}

func resolveURL(base *url.URL, ref string) string {
	if ref == "" || strings.HasPrefix(ref, "javascript:") || ref == "about:blank" {
		return ""
	}
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base == nil {
		return parsed.String()
	}
	return base.ResolveReference(parsed).String()
}

// decodeDataURL decodes base64 data URLs of a document type
func decodeDataURL(u string) ([]byte, bool) {
	if !strings.HasPrefix(u, "data:") {
		return nil, false
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, false
	}
	return data, isDocument(data)
}

// isDocument rejects empty bodies and HTML pages served in place of the document
func isDocument(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	mimeType := http.DetectContentType(data)
	return !strings.HasPrefix(mimeType, "text/html") && !strings.HasPrefix(mimeType, "text/xml")
}

// requestCollector keeps the document-like URLs a popup requested
type requestCollector struct {
	pattern *regexp.Regexp
	mu      sync.Mutex
	seen    map[string]bool
	urls    []string
}

func newRequestCollector(pattern *regexp.Regexp) *requestCollector {
	return &requestCollector{pattern: pattern, seen: make(map[string]bool)}
}

func (c *requestCollector) observe(u, mimeType string) {
	if !c.pattern.MatchString(u) && !strings.Contains(mimeType, "pdf") {
		return
	}
	if strings.HasPrefix(u, "data:") {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[u] {
		return
	}
	c.seen[u] = true
	c.urls = append(c.urls, u)
}

// URLs returns the collected URLs in arrival order
func (c *requestCollector) URLs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}
