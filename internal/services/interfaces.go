package services

import (
	"context"

	"github.com/nexconsult/avaluo-api/internal/models"
)

// AvaluoServiceInterface is the inbound surface consumed by the HTTP layer and the batch CLI
type AvaluoServiceInterface interface {
	// ProcessForm fills the valuation form and returns a session holding the CAPTCHA
	ProcessForm(ctx context.Context, locator models.Locator) (*models.ProcessFormResponse, error)

	// GetSession returns the CAPTCHA of a pending session
	GetSession(sessionID string) (*models.SessionResponse, error)

	// SubmitCaptcha answers the CAPTCHA of a session and returns the certificate
	SubmitCaptcha(ctx context.Context, sessionID, captchaValue string) ([]byte, error)

	// AutoSubmit runs the whole flow using the CAPTCHA oracle
	AutoSubmit(ctx context.Context, locator models.Locator) ([]byte, error)

	// Health returns service health status
	Health() map[string]interface{}
}

// CacheServiceInterface defines the interface for the document cache
type CacheServiceInterface interface {
	// Get retrieves a document from cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a document in cache with TTL
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a document from cache
	Delete(ctx context.Context, key string) error

	// Clear clears all cache entries
	Clear(ctx context.Context) (int, error)

	// GetStats returns cache statistics
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Health returns cache service health status
	Health() map[string]interface{}
}

// CaptchaOracle reads a CAPTCHA image and returns its best-effort text.
// The answer is not validated here.
type CaptchaOracle interface {
	Solve(ctx context.Context, image []byte, mimeType string) (string, error)
}

// BrowserLauncher opens isolated browsing contexts
type BrowserLauncher interface {
	Launch(ctx context.Context) (BrowserContext, error)
}

// BrowserContext is one browser instance with a single page. Every blocking
// call honors the deadline of ctx. Close must not wait on a stuck call.
type BrowserContext interface {
	// ID returns the browser context ID
	ID() string

	// Navigate loads url and waits for the document to be ready
	Navigate(ctx context.Context, url string) error

	// URL returns the current page location
	URL(ctx context.Context) (string, error)

	// SelectOption sets the value of a <select> and fires its change event
	SelectOption(ctx context.Context, selector, value string) error

	// Options returns the non-empty option values of a <select>, nil when
	// the element is missing
	Options(ctx context.Context, selector string) ([]string, error)

	// Type types text into an element
	Type(ctx context.Context, selector, text string) error

	// Click clicks an element through input events
	Click(ctx context.Context, selector string) error

	// Activate clicks an element programmatically from script
	Activate(ctx context.Context, selector string) error

	// ClickAndWaitNavigation clicks and waits for the main frame to load a new document
	ClickAndWaitNavigation(ctx context.Context, selector string) error

	// WaitForSelector waits for an element to be visible
	WaitForSelector(ctx context.Context, selector string) error

	// Attribute reads an attribute of the first element matching selector
	Attribute(ctx context.Context, selector, name string) (string, error)

	// Fetch downloads url through the page network stack, reusing its cookies
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Cookies returns the cookies visible to the page
	Cookies(ctx context.Context) ([]Cookie, error)

	// ExpectPopup registers a one-shot listener for a popup opened by the page.
	// It must be called before the action that opens the popup.
	ExpectPopup(ctx context.Context) (PopupWaiter, error)

	// LastDialog returns the text of the last JavaScript dialog the page opened
	LastDialog() string

	// HTML gets HTML content from the page
	HTML(ctx context.Context) (string, error)

	// Screenshot takes a screenshot
	Screenshot(ctx context.Context) ([]byte, error)

	// Close closes the browser context
	Close() error
}

// PopupWaiter resolves to the popup opened after ExpectPopup
type PopupWaiter interface {
	// Wait blocks until the popup opens or ctx ends. Once a popup was
	// received every later call returns it again.
	Wait(ctx context.Context) (Popup, error)

	// Cancel stops listening. It does not close a received popup.
	Cancel()
}

// Popup is the secondary browsing surface carrying the generated document
type Popup interface {
	// URL returns the popup location
	URL(ctx context.Context) (string, error)

	// WaitLoad waits for the popup document to be ready
	WaitLoad(ctx context.Context) error

	// Frames returns the main frame followed by its descendants in document order
	Frames(ctx context.Context) ([]Frame, error)

	// InterceptRequests starts reporting every request URL the popup issues.
	// The returned function stops reporting.
	InterceptRequests(ctx context.Context, fn func(url, mimeType string)) (func(), error)

	// RenderPDF prints the popup to a PDF document
	RenderPDF(ctx context.Context) ([]byte, error)

	// Close closes the popup
	Close() error
}

// Frame is a frame inside a popup
type Frame interface {
	// URL returns the frame URL
	URL() string

	// HTML returns the serialized frame document
	HTML(ctx context.Context) (string, error)

	// Evaluate runs script in the frame and decodes its JSON result into res
	Evaluate(ctx context.Context, script string, res interface{}) error
}

// Cookie represents an HTTP cookie
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	SameSite string `json:"sameSite,omitempty"`
}
