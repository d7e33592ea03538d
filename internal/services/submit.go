package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/sirupsen/logrus"
)

// SubmitStage types the CAPTCHA answer and clicks the submit control
type SubmitStage struct {
	site    config.SiteConfig
	browser config.BrowserConfig
	logger  *logrus.Logger
}

// NewSubmitStage creates a new submit stage
func NewSubmitStage(site config.SiteConfig, browser config.BrowserConfig, logger *logrus.Logger) *SubmitStage {
	return &SubmitStage{site: site, browser: browser, logger: logger}
}

// Submit answers the CAPTCHA of session and returns the popup the site
// opens in response. The session must already be in Submitting.
func (s *SubmitStage) Submit(ctx context.Context, session *Session, captchaValue string) (Popup, error) {
	browser := session.Browser()
	logger := s.logger.WithField("session_id", session.ID)

	typeCtx, cancel := context.WithTimeout(ctx, s.browser.ActionTimeout)
	err := browser.Type(typeCtx, s.site.CaptchaInputSelector, captchaValue)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: captcha field: %v", ErrUnexpectedPageState, err)
	}

	// The listener exists before the first click.
	waiter, err := browser.ExpectPopup(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: popup listener: %v", ErrUnexpectedPageState, err)
	}
	defer waiter.Cancel()

	popup, clicked, err := s.clickUntilPopup(ctx, browser, waiter, logger)
	if err != nil {
		return nil, err
	}
	if popup != nil {
		return popup, nil
	}
	if !clicked {
		return nil, fmt.Errorf("%w: after %d attempts", ErrSubmitClickFailed, s.browser.ClickAttempts)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.browser.PopupTimeout)
	defer cancel()
	popup, err = waiter.Wait(waitCtx)
	if err == nil {
		return popup, nil
	}

	if dialog := browser.LastDialog(); dialog != "" {
		return nil, fmt.Errorf("%w: site said %q", ErrCaptchaRejected, dialog)
	}
	return nil, fmt.Errorf("%w: within %s: %v", ErrPopupNotOpened, s.browser.PopupTimeout, err)
}

// clickUntilPopup runs the click sequence: a direct click, then a scripted
// activation, each followed by a short grace wait for the popup. Each round
// backs off before the next. It reports whether any click was delivered.
func (s *SubmitStage) clickUntilPopup(ctx context.Context, browser BrowserContext, waiter PopupWaiter, logger *logrus.Entry) (Popup, bool, error) {
	var popup Popup
	clicked := false

	clicks := []struct {
		name string
		do   func(ctx context.Context, selector string) error
	}{
		{"direct", browser.Click},
		{"scripted", browser.Activate},
	}

	err := Retry(ctx, Backoff{Attempts: s.browser.ClickAttempts, Delay: s.browser.ClickBackoff}, func(ctx context.Context, attempt int) (bool, error) {
		for _, click := range clicks {
			clickCtx, cancel := context.WithTimeout(ctx, s.browser.ActionTimeout)
			err := click.do(clickCtx, s.site.CaptchaSubmitSelector)
			cancel()
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"attempt": attempt,
					"click":   click.name,
				}).Debug("Submit click failed")
				if errors.Is(err, ErrBrowserClosed) {
					return true, err
				}
				continue
			}
			clicked = true

			if p, ok := s.awaitGrace(ctx, waiter); ok {
				popup = p
				logger.WithFields(logrus.Fields{
					"attempt": attempt,
					"click":   click.name,
				}).Debug("Popup opened")
				return true, nil
			}
		}
		return false, nil
	})

	if popup != nil {
		return popup, clicked, nil
	}
	if errors.Is(err, ErrBrowserClosed) || errors.Is(err, context.Canceled) {
		return nil, clicked, err
	}
	return nil, clicked, nil
}

func (s *SubmitStage) awaitGrace(ctx context.Context, waiter PopupWaiter) (Popup, bool) {
	graceCtx, cancel := context.WithTimeout(ctx, s.grace())
	defer cancel()

	popup, err := waiter.Wait(graceCtx)
	if err != nil {
		return nil, false
	}
	return popup, true
}

func (s *SubmitStage) grace() time.Duration {
	if s.browser.ClickGrace > s.browser.PopupTimeout {
		return s.browser.PopupTimeout
	}
	return s.browser.ClickGrace
}
