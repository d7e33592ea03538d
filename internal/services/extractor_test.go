package services

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const viewerFrameURL = "https://zeus.sii.cl/avalu_cgi/br/brc111.sh"

type extractorFixture struct {
	extractor *ExtractorService
	session   *Session
	browser   *fakeBrowser
	site      *fakeSite
	metrics   *Metrics
}

func newExtractorFixture(t *testing.T, mutate func(cfg *config.Config)) *extractorFixture {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	site := newFakeSite()
	metrics := NewMetrics(prometheus.NewRegistry())

	extractor, err := NewExtractorService(cfg.Site, cfg.Browser, metrics, logger.Discard())
	require.NoError(t, err)

	store := NewSessionStore(cfg.Session.TTL, nil, logger.Discard())
	browser := newFakeBrowser("extract", site)
	session := store.Create(testLocator, testPNG, "image/png", browser)

	return &extractorFixture{extractor: extractor, session: session, browser: browser, site: site, metrics: metrics}
}

func (f *extractorFixture) hits(strategy string) float64 {
	return testutil.ToFloat64(f.metrics.strategyHits.WithLabelValues(strategy))
}

func TestExtractDirectURLBeatsViewer(t *testing.T) {
	f := newExtractorFixture(t, nil)
	viewer := &fakeFrame{url: viewerFrameURL, html: `<embed src="otro_pdf.sh?rol=1">`}
	popup := newFakePopup(viewer, &fakeFrame{url: testDocURL})

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Equal(t, 0, viewer.viewerCalls())
	assert.Equal(t, []string{testDocURL}, f.browser.fetchedURLs())
	assert.Equal(t, 1.0, f.hits(StrategyDirectURL))
	assert.Equal(t, 1, popup.closeCount())
}

func TestExtractEmbeddedViewerResolvesRelativeURL(t *testing.T) {
	f := newExtractorFixture(t, nil)
	viewer := &fakeFrame{
		url:  viewerFrameURL,
		html: `<html><body><embed type="application/pdf" src="brc111_pdf.sh?rol=500-295"></body></html>`,
	}
	popup := newFakePopup(viewer)

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Contains(t, f.browser.fetchedURLs(), testDocURL)
	assert.Equal(t, 1.0, f.hits(StrategyViewer))
}

func TestExtractEmbeddedViewerDataURL(t *testing.T) {
	f := newExtractorFixture(t, nil)
	inline := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(testPDF)
	viewer := &fakeFrame{url: viewerFrameURL, html: `<object data="` + inline + `"></object>`}

	data, err := f.extractor.Extract(context.Background(), f.session, newFakePopup(viewer))

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Empty(t, f.browser.fetchedURLs())
}

func TestExtractInterceptedRequest(t *testing.T) {
	f := newExtractorFixture(t, nil)
	stream := "https://zeus.sii.cl/avalu_cgi/br/descarga.sh?id=9"
	f.site.documents[stream] = testPDF

	popup := newFakePopup(&fakeFrame{url: viewerFrameURL, html: "<html><body>Generando...</body></html>"})
	popup.requests = [][2]string{
		{"https://zeus.sii.cl/avalu_cgi/css/estilo.css", "text/css"},
		{stream, "application/pdf"},
		{stream, "application/pdf"},
	}

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Equal(t, []string{stream}, f.browser.fetchedURLs())
	assert.Equal(t, 1.0, f.hits(StrategyIntercepted))
}

func TestExtractRejectsHTMLBody(t *testing.T) {
	f := newExtractorFixture(t, nil)
	f.site.documents[testDocURL] = []byte("<html><body>Sesion expirada</body></html>")
	popup := newFakePopup(&fakeFrame{url: testDocURL})

	_, err := f.extractor.Extract(context.Background(), f.session, popup)

	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Equal(t, 1, popup.closeCount())
}

func TestExtractNothingFound(t *testing.T) {
	f := newExtractorFixture(t, nil)
	popup := newFakePopup(&fakeFrame{url: "https://zeus.sii.cl/avalu_cgi/br/error.sh", html: "<p>Codigo incorrecto</p>"})

	_, err := f.extractor.Extract(context.Background(), f.session, popup)

	assert.ErrorIs(t, err, ErrArtifactNotFound)
	assert.True(t, IsRecoverable(err))
	assert.Equal(t, 1, popup.closeCount())
	assert.Equal(t, 3, popup.rounds)
}

func TestExtractRenderFallback(t *testing.T) {
	f := newExtractorFixture(t, func(cfg *config.Config) { cfg.Browser.RenderFallback = true })
	popup := newFakePopup(&fakeFrame{url: viewerFrameURL})
	popup.rendered = testPDF

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Equal(t, 1.0, f.hits(StrategyRender))
}

func TestExtractWaitsForLateFrames(t *testing.T) {
	f := newExtractorFixture(t, nil)
	popup := newFakePopup(&fakeFrame{url: viewerFrameURL}, &fakeFrame{url: testDocURL})
	popup.framesAfter = 2

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
	assert.Equal(t, 3, popup.rounds)
}

func TestExtractToleratesSlowLoad(t *testing.T) {
	f := newExtractorFixture(t, nil)
	popup := newFakePopup(&fakeFrame{url: testDocURL})
	popup.waitLoadErr = context.DeadlineExceeded

	data, err := f.extractor.Extract(context.Background(), f.session, popup)

	require.NoError(t, err)
	assert.Equal(t, testPDF, data)
}

func TestDecodeDataURL(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString(testPDF)

	data, ok := decodeDataURL("data:application/pdf;base64," + encoded)
	assert.True(t, ok)
	assert.Equal(t, testPDF, data)

	_, ok = decodeDataURL("data:text/plain,hello")
	assert.False(t, ok)

	_, ok = decodeDataURL("data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte("<html></html>")))
	assert.False(t, ok)
}
