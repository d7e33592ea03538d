package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/sirupsen/logrus"
)

// Orchestrator composes the stages and the CAPTCHA oracle into the
// retry policy. It is the only place that decides whether a failed
// attempt is retried.
type Orchestrator struct {
	form      *FormStage
	submit    *SubmitStage
	extractor *ExtractorService
	oracle    CaptchaOracle
	store     *SessionStore
	documents *DocumentStore
	retry     config.RetryConfig
	browser   config.BrowserConfig
	metrics   *Metrics
	logger    *logrus.Logger
}

// Stages groups the flow stages driven by the orchestrator
type Stages struct {
	Form      *FormStage
	Submit    *SubmitStage
	Extractor *ExtractorService
}

// NewOrchestrator creates a new orchestrator. oracle and documents may be nil.
func NewOrchestrator(stages Stages, oracle CaptchaOracle, store *SessionStore, documents *DocumentStore, cfg *config.Config, metrics *Metrics, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		form:      stages.Form,
		submit:    stages.Submit,
		extractor: stages.Extractor,
		oracle:    oracle,
		store:     store,
		documents: documents,
		retry:     cfg.Retry,
		browser:   cfg.Browser,
		metrics:   metrics,
		logger:    logger,
	}
}

// Form runs the form stage alone
func (o *Orchestrator) Form(ctx context.Context, locator models.Locator) (*Session, error) {
	return o.form.Process(ctx, locator)
}

// HasOracle reports whether oracle-driven attempts are possible
func (o *Orchestrator) HasOracle() bool {
	return o.oracle != nil
}

// Run drives the whole flow for locator with oracle answers
func (o *Orchestrator) Run(ctx context.Context, locator models.Locator) ([]byte, error) {
	if o.oracle == nil {
		return nil, ErrOracleUnavailable
	}
	return o.attempts(ctx, o.retry.MaxAttempts, func(ctx context.Context, attempt int) ([]byte, error) {
		return o.freshAttempt(ctx, locator, attempt)
	})
}

// Resume answers an existing session with a caller supplied value. When
// that attempt fails recoverably and an oracle is configured, later
// attempts start over from the form for the same locator.
func (o *Orchestrator) Resume(ctx context.Context, sessionID, captchaValue string) ([]byte, error) {
	session, err := o.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	budget := o.retry.MaxAttempts
	if o.oracle == nil {
		budget = 1
	}
	return o.attempts(ctx, budget, func(ctx context.Context, attempt int) ([]byte, error) {
		if attempt == 1 {
			return o.drive(ctx, session, captchaValue, attempt)
		}
		return o.freshAttempt(ctx, session.Locator, attempt)
	})
}

// attempts runs fn at most budget times and returns either a document or
// one terminal error wrapping the furthest failure.
func (o *Orchestrator) attempts(ctx context.Context, budget int, fn func(ctx context.Context, attempt int) ([]byte, error)) ([]byte, error) {
	var data []byte
	var lastErr error
	var lastAttempt int
	final := false

	err := Retry(ctx, Backoff{Attempts: budget, Delay: o.retry.Delay}, func(ctx context.Context, attempt int) (bool, error) {
		lastAttempt = attempt
		o.metrics.Attempt()

		d, err := fn(ctx, attempt)
		o.metrics.Outcome(err)
		if err == nil {
			data = d
			return true, nil
		}

		lastErr = err
		recoverable := IsRecoverable(err)
		o.logger.WithError(err).WithFields(logrus.Fields{
			"attempt":     attempt,
			"kind":        KindOf(err),
			"recoverable": recoverable,
		}).Warn("Attempt failed")
		final = !recoverable
		return final, err
	})

	switch {
	case err == nil:
		return data, nil
	case final:
		return nil, err
	case errors.Is(err, ErrRetryExhausted):
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrAttemptsExhausted, lastAttempt, lastErr)
	case lastErr != nil:
		return nil, fmt.Errorf("%w: %w", err, lastErr)
	}
	return nil, err
}

// freshAttempt obtains a new CAPTCHA, asks the oracle and drives the session
func (o *Orchestrator) freshAttempt(ctx context.Context, locator models.Locator, attempt int) ([]byte, error) {
	session, err := o.form.Process(ctx, locator)
	if err != nil {
		return nil, err
	}

	answer, err := o.solve(ctx, session)
	if err != nil {
		o.store.Fail(session.ID)
		return nil, err
	}
	return o.drive(ctx, session, answer, attempt)
}

func (o *Orchestrator) solve(ctx context.Context, session *Session) (string, error) {
	answer, err := o.oracle.Solve(ctx, session.CaptchaImage, session.CaptchaMIME)
	if err != nil {
		o.metrics.OracleResponse(false)
		return "", fmt.Errorf("%w: %v", ErrOracleInvalidAnswer, err)
	}
	if err := ValidateCaptchaAnswer(answer); err != nil {
		o.metrics.OracleResponse(false)
		return "", err
	}
	o.metrics.OracleResponse(true)
	return answer, nil
}

// drive submits value for session and extracts the document. The session
// is always removed from the store before drive returns, except when it
// is busy with another caller.
func (o *Orchestrator) drive(ctx context.Context, session *Session, value string, attempt int) ([]byte, error) {
	if err := session.transition(StateAwaitingCaptcha, StateSubmitting); err != nil {
		return nil, err
	}

	logger := o.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"attempt":    attempt,
	})
	logger.Info("Submitting CAPTCHA")

	data, err := o.submitAndExtract(ctx, session, value)
	if err != nil {
		o.saveDiagnostics(ctx, session, logger)
		o.store.Fail(session.ID)
		return nil, err
	}

	o.store.Complete(session.ID)
	return data, nil
}

func (o *Orchestrator) submitAndExtract(ctx context.Context, session *Session, value string) ([]byte, error) {
	popup, err := o.submit.Submit(ctx, session, value)
	if err != nil {
		return nil, err
	}

	if err := session.transition(StateSubmitting, StateExtractingArtifact); err != nil {
		if closeErr := popup.Close(); closeErr != nil {
			o.logger.WithError(closeErr).Warn("Failed to close popup")
		}
		return nil, err
	}
	return o.extractor.Extract(ctx, session, popup)
}

func (o *Orchestrator) saveDiagnostics(ctx context.Context, session *Session, logger *logrus.Entry) {
	if o.documents == nil {
		return
	}
	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.browser.ActionTimeout)
	defer cancel()

	if _, err := o.documents.SaveDiagnostics(diagCtx, session.ID, session.Browser()); err != nil {
		logger.WithError(err).Warn("Failed to save diagnostics")
	}
}
