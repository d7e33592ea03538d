package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/nexconsult/avaluo-api/internal/config"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/sirupsen/logrus"
)

// FormStage drives the valuation form up to the CAPTCHA page
type FormStage struct {
	site        config.SiteConfig
	browser     config.BrowserConfig
	launcher    BrowserLauncher
	store       *SessionStore
	captchaPage *regexp.Regexp
	logger      *logrus.Logger
}

// NewFormStage creates a new form stage
func NewFormStage(site config.SiteConfig, browser config.BrowserConfig, launcher BrowserLauncher, store *SessionStore, logger *logrus.Logger) (*FormStage, error) {
	captchaPage, err := regexp.Compile(site.CaptchaPagePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid captcha page pattern: %w", err)
	}

	return &FormStage{
		site:        site,
		browser:     browser,
		launcher:    launcher,
		store:       store,
		captchaPage: captchaPage,
		logger:      logger,
	}, nil
}

// Process opens a browser, fills the form for locator and registers a
// session holding the CAPTCHA image. The browser is closed on every
// failure path.
func (f *FormStage) Process(ctx context.Context, locator models.Locator) (*Session, error) {
	logger := f.logger.WithFields(logrus.Fields{
		"region":  locator.Region,
		"comuna":  locator.Comuna,
		"manzana": locator.Manzana,
		"predio":  locator.Predio,
	})

	launchCtx, cancel := context.WithTimeout(ctx, f.browser.LaunchTimeout)
	browser, err := f.launcher.Launch(launchCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	image, mimeType, err := f.reachCaptcha(ctx, browser, locator, logger)
	if err != nil {
		if closeErr := browser.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close browser after form failure")
		}
		logger.WithError(err).Warn("Form submission failed")
		return nil, err
	}

	return f.store.Create(locator, image, mimeType, browser), nil
}

func (f *FormStage) reachCaptcha(ctx context.Context, browser BrowserContext, locator models.Locator, logger *logrus.Entry) ([]byte, string, error) {
	logger.Debug("Navigating to valuation form")
	if err := f.step(ctx, f.browser.NavigationTimeout, func(ctx context.Context) error {
		return browser.Navigate(ctx, f.site.FormURL)
	}); err != nil {
		return nil, "", wrapTimeout(ErrNavigationTimeout, "load form", err)
	}

	if err := f.fill(ctx, browser, locator); err != nil {
		return nil, "", err
	}

	logger.Debug("Submitting form")
	if err := f.step(ctx, f.browser.NavigationTimeout, func(ctx context.Context) error {
		return browser.ClickAndWaitNavigation(ctx, f.site.FormSubmitSelector)
	}); err != nil {
		return nil, "", wrapTimeout(ErrNavigationTimeout, "submit form", err)
	}

	var currentURL string
	if err := f.step(ctx, f.browser.ActionTimeout, func(ctx context.Context) (err error) {
		currentURL, err = browser.URL(ctx)
		return err
	}); err != nil {
		return nil, "", fmt.Errorf("%w: cannot read location: %v", ErrUnexpectedPageState, err)
	}
	if !f.captchaPage.MatchString(currentURL) {
		return nil, "", fmt.Errorf("%w: landed on %s", ErrUnexpectedPageState, currentURL)
	}
	logger.WithField("url", currentURL).Debug("CAPTCHA page reached")

	if err := f.step(ctx, f.browser.CaptchaTimeout, func(ctx context.Context) error {
		return browser.WaitForSelector(ctx, f.site.CaptchaImageSelector)
	}); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCaptchaNotFound, err)
	}

	var src string
	if err := f.step(ctx, f.browser.ActionTimeout, func(ctx context.Context) (err error) {
		src, err = browser.Attribute(ctx, f.site.CaptchaImageSelector, "src")
		return err
	}); err != nil || src == "" {
		return nil, "", fmt.Errorf("%w: image has no source (%v)", ErrCaptchaNotFound, err)
	}

	var image []byte
	if err := f.step(ctx, f.browser.FetchTimeout, func(ctx context.Context) (err error) {
		image, err = browser.Fetch(ctx, src)
		return err
	}); err != nil || len(image) == 0 {
		return nil, "", fmt.Errorf("%w: cannot download %s (%v)", ErrCaptchaNotFound, src, err)
	}

	f.logSiteSession(ctx, browser, logger)

	return image, detectImageType(image), nil
}

// fill selects region and comuna and types the block and parcel numbers.
// The comuna options are loaded by the page after the region changes.
func (f *FormStage) fill(ctx context.Context, browser BrowserContext, locator models.Locator) error {
	if err := f.step(ctx, f.browser.SelectorTimeout, func(ctx context.Context) error {
		if err := browser.WaitForSelector(ctx, f.site.RegionSelector); err != nil {
			return err
		}
		return browser.SelectOption(ctx, f.site.RegionSelector, locator.Region)
	}); err != nil {
		return fieldError("region", err)
	}

	if err := f.waitComuna(ctx, browser, locator.Comuna); err != nil {
		return err
	}

	steps := []struct {
		field string
		run   func(ctx context.Context) error
	}{
		{"comuna", func(ctx context.Context) error {
			return browser.SelectOption(ctx, f.site.ComunaSelector, locator.Comuna)
		}},
		{"manzana", func(ctx context.Context) error {
			return browser.Type(ctx, f.site.ManzanaSelector, locator.Manzana)
		}},
		{"predio", func(ctx context.Context) error {
			return browser.Type(ctx, f.site.PredioSelector, locator.Predio)
		}},
	}
	for _, s := range steps {
		if err := f.step(ctx, f.browser.ActionTimeout, s.run); err != nil {
			return fieldError(s.field, err)
		}
	}
	return nil
}

// waitComuna polls the comuna list until it offers comuna. A list that
// loaded without it is a page state mismatch; a list that never loaded
// is a timeout.
func (f *FormStage) waitComuna(ctx context.Context, browser BrowserContext, comuna string) error {
	var offered []string
	err := Retry(ctx, f.optionPoll(), func(ctx context.Context, _ int) (bool, error) {
		var values []string
		if err := f.step(ctx, f.browser.ActionTimeout, func(ctx context.Context) (err error) {
			values, err = browser.Options(ctx, f.site.ComunaSelector)
			return err
		}); err != nil {
			return false, err
		}
		if len(values) > 0 {
			offered = values
		}
		return slices.Contains(values, comuna), nil
	})
	if err == nil {
		return nil
	}
	if len(offered) > 0 && errors.Is(err, ErrRetryExhausted) {
		return fmt.Errorf("%w: field comuna: %s not among %d offered options", ErrUnexpectedPageState, comuna, len(offered))
	}
	return fieldError("comuna", err)
}

// logSiteSession records whether the site issued its own session cookie
func (f *FormStage) logSiteSession(ctx context.Context, browser BrowserContext, logger *logrus.Entry) {
	var cookies []Cookie
	if err := f.step(ctx, f.browser.ActionTimeout, func(ctx context.Context) (err error) {
		cookies, err = browser.Cookies(ctx)
		return err
	}); err != nil {
		logger.WithError(err).Debug("Cannot read site cookies")
		return
	}

	names := make([]string, 0, len(cookies))
	for _, c := range cookies {
		names = append(names, c.Name)
	}
	logger.WithField("cookies", strings.Join(names, ",")).Debug("Site cookies after form")
}

// optionPoll spreads the selector timeout over frame-delay rounds
func (f *FormStage) optionPoll() Backoff {
	delay := f.browser.FrameDelay
	if delay <= 0 {
		delay = 250 * time.Millisecond
	}
	rounds := int(f.browser.SelectorTimeout / delay)
	if rounds < 1 {
		rounds = 1
	}
	return Backoff{Attempts: rounds, Delay: delay}
}

// step runs fn under its own timeout
func (f *FormStage) step(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

func fieldError(field string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: field %s: %v", ErrNavigationTimeout, field, err)
	}
	return fmt.Errorf("%w: field %s: %v", ErrUnexpectedPageState, field, err)
}

// wrapTimeout classifies step failures as kind; anything else means the
// page is not the one the flow expects.
func wrapTimeout(kind error, what string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %v", kind, what, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrUnexpectedPageState, what, err)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrDriverTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrRetryExhausted)
}

func detectImageType(image []byte) string {
	mimeType := http.DetectContentType(image)
	if !strings.HasPrefix(mimeType, "image/") {
		return "image/png"
	}
	return mimeType
}
