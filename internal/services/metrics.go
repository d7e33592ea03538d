package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the flow. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsOpened  prometheus.Counter
	sessionsClosed  *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	attempts        prometheus.Counter
	outcomes        *prometheus.CounterVec
	strategyHits    *prometheus.CounterVec
	oracleResponses *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "sessions_opened_total",
			Help:      "Browser sessions that reached the CAPTCHA page.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "sessions_closed_total",
			Help:      "Sessions closed, by terminal state.",
		}, []string{"state"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "avaluo",
			Name:      "sessions_active",
			Help:      "Sessions currently holding a browser.",
		}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "attempts_total",
			Help:      "Full form-to-document attempts.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "attempt_outcomes_total",
			Help:      "Attempt outcomes by error kind.",
		}, []string{"kind"}),
		strategyHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "extraction_strategy_hits_total",
			Help:      "Extraction strategy that produced the document.",
		}, []string{"strategy"}),
		oracleResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avaluo",
			Name:      "oracle_responses_total",
			Help:      "CAPTCHA oracle answers by shape validity.",
		}, []string{"valid"}),
	}

	if reg != nil {
		reg.MustRegister(m.sessionsOpened, m.sessionsClosed, m.activeSessions,
			m.attempts, m.outcomes, m.strategyHits, m.oracleResponses)
	}
	return m
}

// SessionOpened records a created session
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsOpened.Inc()
	m.activeSessions.Inc()
}

// SessionClosed records a closed session
func (m *Metrics) SessionClosed(state SessionState) {
	if m == nil {
		return
	}
	m.sessionsClosed.WithLabelValues(string(state)).Inc()
	m.activeSessions.Dec()
}

// Attempt records the start of a full attempt
func (m *Metrics) Attempt() {
	if m == nil {
		return
	}
	m.attempts.Inc()
}

// Outcome records the result of an attempt
func (m *Metrics) Outcome(err error) {
	if m == nil {
		return
	}
	kind := "SUCCESS"
	if err != nil {
		kind = KindOf(err)
	}
	m.outcomes.WithLabelValues(kind).Inc()
}

// StrategyHit records the strategy that yielded a document
func (m *Metrics) StrategyHit(strategy string) {
	if m == nil {
		return
	}
	m.strategyHits.WithLabelValues(strategy).Inc()
}

// OracleResponse records whether an oracle answer had a valid shape
func (m *Metrics) OracleResponse(valid bool) {
	if m == nil {
		return
	}
	label := "false"
	if valid {
		label = "true"
	}
	m.oracleResponses.WithLabelValues(label).Inc()
}
