package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/sirupsen/logrus"
)

// CaptchaHandler handles the valuation certificate flow
type CaptchaHandler struct {
	avaluoService services.AvaluoServiceInterface
	logger        *logrus.Logger
}

// NewCaptchaHandler creates a new captcha handler
func NewCaptchaHandler(avaluoService services.AvaluoServiceInterface, logger *logrus.Logger) *CaptchaHandler {
	return &CaptchaHandler{
		avaluoService: avaluoService,
		logger:        logger,
	}
}

// Submit handles the form stage
// @Summary Start a certificate request
// @Description Fill the valuation form for a property and return the CAPTCHA to solve
// @Tags Captcha
// @Accept json
// @Produce json
// @Param request body models.Locator true "Property locator"
// @Success 200 {object} models.ProcessFormResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Failure 504 {object} models.ErrorResponse
// @Router /captcha/submit [post]
func (h *CaptchaHandler) Submit(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString("request_id")

	var locator models.Locator
	if err := c.ShouldBindJSON(&locator); err != nil {
		badRequest(c, err)
		return
	}

	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"locator":    locator.Key(),
	})
	logger.Info("Processing valuation form")

	result, err := h.avaluoService.ProcessForm(c.Request.Context(), locator)
	if err != nil {
		logger.WithError(err).WithField("duration", time.Since(start)).Error("Failed to reach CAPTCHA")
		writeError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"session_id": result.SessionID,
		"duration":   time.Since(start),
	}).Info("CAPTCHA ready")
	c.JSON(http.StatusOK, result)
}

// GetSession handles session lookup
// @Summary Get a pending session
// @Description Return the CAPTCHA and state of a session awaiting its answer
// @Tags Captcha
// @Produce json
// @Param sessionId path string true "Session ID"
// @Success 200 {object} models.SessionResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /captcha/session/{sessionId} [get]
func (h *CaptchaHandler) GetSession(c *gin.Context) {
	session, err := h.avaluoService.GetSession(c.Param("sessionId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Resolve handles a caller supplied CAPTCHA answer
// @Summary Answer the CAPTCHA
// @Description Submit the CAPTCHA answer of a session and download the certificate
// @Tags Captcha
// @Accept json
// @Produce application/pdf
// @Param request body models.SubmitCaptchaRequest true "CAPTCHA answer"
// @Success 200 {file} file
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /captcha/resolve [post]
func (h *CaptchaHandler) Resolve(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString("request_id")

	var request models.SubmitCaptchaRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, err)
		return
	}

	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"session_id": request.SessionID,
	})

	data, err := h.avaluoService.SubmitCaptcha(c.Request.Context(), request.SessionID, request.CaptchaValue)
	if err != nil {
		logger.WithError(err).WithField("duration", time.Since(start)).Error("Failed to resolve CAPTCHA")
		writeError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Info("Certificate delivered")
	writePDF(c, data)
}

// Auto handles the oracle driven flow
// @Summary Get a certificate automatically
// @Description Run the whole flow reading the CAPTCHA with the configured oracle
// @Tags Captcha
// @Accept json
// @Produce application/pdf
// @Param request body models.Locator true "Property locator"
// @Success 200 {file} file
// @Failure 400 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /captcha/auto [post]
func (h *CaptchaHandler) Auto(c *gin.Context) {
	start := time.Now()
	requestID := c.GetString("request_id")

	var locator models.Locator
	if err := c.ShouldBindJSON(&locator); err != nil {
		badRequest(c, err)
		return
	}

	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"locator":    locator.Key(),
	})
	logger.Info("Processing automatic certificate request")

	data, err := h.avaluoService.AutoSubmit(c.Request.Context(), locator)
	if err != nil {
		logger.WithError(err).WithField("duration", time.Since(start)).Error("Automatic resolution failed")
		writeError(c, err)
		return
	}

	logger.WithFields(logrus.Fields{
		"bytes":    len(data),
		"duration": time.Since(start),
	}).Info("Certificate delivered")
	writePDF(c, data)
}

func writePDF(c *gin.Context, data []byte) {
	c.Header("Content-Disposition", `attachment; filename="certificado_avaluo.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}
