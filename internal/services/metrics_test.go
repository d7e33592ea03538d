package services

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed(StateFailed)
		m.Attempt()
		m.Outcome(ErrPopupNotOpened)
		m.StrategyHit(StrategyDirectURL)
		m.OracleResponse(true)
	})
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(StateCompleted)
	m.Outcome(nil)
	m.Outcome(fmt.Errorf("%w: x", ErrArtifactNotFound))
	m.StrategyHit(StrategyViewer)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsClosed.WithLabelValues(string(StateCompleted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outcomes.WithLabelValues("ARTIFACT_NOT_FOUND")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.strategyHits.WithLabelValues(StrategyViewer)))
}
