package services

import (
	"errors"
)

// Flow error taxonomy. Stages wrap one of these with fmt.Errorf("%w: ...")
// so callers classify with errors.Is.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionBusy         = errors.New("session is already being processed")
	ErrNavigationTimeout   = errors.New("navigation timeout")
	ErrCaptchaNotFound     = errors.New("captcha image not found")
	ErrUnexpectedPageState = errors.New("unexpected page state")
	ErrSubmitClickFailed   = errors.New("submit click failed")
	ErrPopupNotOpened      = errors.New("document popup did not open")
	ErrArtifactNotFound    = errors.New("document not found in popup")
	ErrOracleInvalidAnswer = errors.New("captcha oracle returned an invalid answer")
	ErrCaptchaRejected     = errors.New("captcha rejected by site")
	ErrOracleUnavailable   = errors.New("captcha oracle not configured")
	ErrAttemptsExhausted   = errors.New("all attempts exhausted")
	ErrInvalidLocator      = errors.New("invalid locator")

	// Driver level errors
	ErrBrowserClosed  = errors.New("browser context closed")
	ErrDriverTimeout  = errors.New("browser operation timed out")
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

var errorKinds = []struct {
	err  error
	code string
}{
	{ErrSessionNotFound, "SESSION_NOT_FOUND"},
	{ErrSessionBusy, "SESSION_BUSY"},
	{ErrNavigationTimeout, "NAVIGATION_TIMEOUT"},
	{ErrCaptchaNotFound, "CAPTCHA_NOT_FOUND"},
	{ErrUnexpectedPageState, "UNEXPECTED_PAGE_STATE"},
	{ErrSubmitClickFailed, "SUBMIT_CLICK_FAILED"},
	{ErrCaptchaRejected, "CAPTCHA_REJECTED"},
	{ErrPopupNotOpened, "POPUP_NOT_OPENED"},
	{ErrArtifactNotFound, "ARTIFACT_NOT_FOUND"},
	{ErrOracleInvalidAnswer, "ORACLE_INVALID_ANSWER"},
	{ErrOracleUnavailable, "ORACLE_UNAVAILABLE"},
	{ErrInvalidLocator, "INVALID_LOCATOR"},
	{ErrBrowserClosed, "BROWSER_CLOSED"},
	{ErrDriverTimeout, "DRIVER_TIMEOUT"},
}

// KindOf returns a stable code for err. The exhausted wrapper is looked
// through so the code describes the furthest failure reached.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		return "ATTEMPTS_EXHAUSTED"
	}
	return "INTERNAL_ERROR"
}

// IsRecoverable reports whether a failed attempt should be answered with a
// fresh form submission and a new CAPTCHA.
func IsRecoverable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrSessionBusy),
		errors.Is(err, ErrUnexpectedPageState),
		errors.Is(err, ErrSubmitClickFailed),
		errors.Is(err, ErrOracleUnavailable):
		return false
	case errors.Is(err, ErrPopupNotOpened),
		errors.Is(err, ErrArtifactNotFound),
		errors.Is(err, ErrOracleInvalidAnswer),
		errors.Is(err, ErrCaptchaRejected),
		errors.Is(err, ErrNavigationTimeout),
		errors.Is(err, ErrCaptchaNotFound):
		return true
	}
	return false
}
