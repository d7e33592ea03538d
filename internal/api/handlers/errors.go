package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
)

// errorStatus maps flow errors to HTTP statuses. Order matters: the
// exhausted wrapper carries the last stage error.
var errorStatus = []struct {
	err     error
	status  int
	title   string
	message string
}{
	{services.ErrSessionNotFound, http.StatusNotFound, "Session not found", "The session expired or never existed"},
	{services.ErrSessionBusy, http.StatusConflict, "Session busy", "The session is already being processed"},
	{services.ErrInvalidLocator, http.StatusBadRequest, "Invalid locator", ""},
	{services.ErrOracleUnavailable, http.StatusServiceUnavailable, "Automatic resolution unavailable", "No CAPTCHA oracle is configured"},
	{services.ErrAttemptsExhausted, http.StatusBadGateway, "Certificate not obtained", "Every attempt failed"},
	{services.ErrUnexpectedPageState, http.StatusBadGateway, "Unexpected page", "The site returned a page the flow does not recognize"},
	{services.ErrNavigationTimeout, http.StatusGatewayTimeout, "Site timeout", "The site did not respond in time"},
	{services.ErrCaptchaNotFound, http.StatusBadGateway, "CAPTCHA not found", "The site did not show a CAPTCHA"},
	{services.ErrSubmitClickFailed, http.StatusBadGateway, "Submit failed", "The CAPTCHA could not be submitted"},
	{services.ErrCaptchaRejected, http.StatusBadGateway, "CAPTCHA rejected", "The site rejected the CAPTCHA answer"},
	{services.ErrPopupNotOpened, http.StatusBadGateway, "Certificate not opened", "The site did not open the certificate"},
	{services.ErrArtifactNotFound, http.StatusBadGateway, "Certificate not found", "The certificate could not be extracted"},
	{services.ErrOracleInvalidAnswer, http.StatusBadGateway, "CAPTCHA not read", "The oracle returned an unusable answer"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "Request timeout", "The request took too long to process"},
}

// writeError renders err as an ErrorResponse
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	title := "Internal server error"
	message := "An unexpected error occurred while processing your request"

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			status, title, message = e.status, e.title, e.message
			if message == "" {
				message = err.Error()
			}
			break
		}
	}

	c.JSON(status, models.ErrorResponse{
		Error:     title,
		Message:   message,
		Code:      services.KindOf(err),
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:     "Invalid request format",
		Message:   err.Error(),
		Code:      "INVALID_REQUEST",
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}
