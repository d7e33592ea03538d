package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestScriptQuotesArguments(t *testing.T) {
	got := script(selectOptionScript, `select[name="comuna"]`, `06101'); alert('x`)

	assert.Contains(t, got, `"select[name=\"comuna\"]"`)
	assert.Contains(t, got, `"06101'); alert('x"`)
	assert.NotContains(t, got, "%s")
}

func TestCtxErrorMapsDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctxError(ctx), ErrDriverTimeout)

	cancelled, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.ErrorIs(t, ctxError(cancelled), context.Canceled)
	assert.NotErrorIs(t, ctxError(cancelled), ErrDriverTimeout)
}

func TestRunBoundedAfterClose(t *testing.T) {
	var closed atomic.Bool
	closed.Store(true)

	err := runBounded(context.Background(), context.Background(), &closed)

	assert.ErrorIs(t, err, ErrBrowserClosed)
}

func TestChromeLauncherStats(t *testing.T) {
	launcher := NewChromeLauncher(config.BrowserConfig{Headless: true}, logger.Discard())

	stats := launcher.GetStats()

	assert.Equal(t, int64(0), stats["launched_total"])
	assert.Equal(t, int64(0), stats["active_browsers"])
	assert.Equal(t, true, stats["headless"])
}
