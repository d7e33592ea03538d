package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/nexconsult/avaluo-api/internal/utils"
	"github.com/sirupsen/logrus"
)

// CacheHandler administers the certificate cache
type CacheHandler struct {
	cacheService services.CacheServiceInterface
	logger       *logrus.Logger
}

// NewCacheHandler creates a new cache handler
func NewCacheHandler(cacheService services.CacheServiceInterface, logger *logrus.Logger) *CacheHandler {
	return &CacheHandler{
		cacheService: cacheService,
		logger:       logger,
	}
}

// GetStats reports how many certificates are cached
// @Summary Certificate cache statistics
// @Description Number and size of cached certificates in Redis and in the local fallback
// @Tags Cache
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} models.ErrorResponse
// @Router /cache/stats [get]
func (h *CacheHandler) GetStats(c *gin.Context) {
	stats, err := h.cacheService.GetStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).WithField("request_id", c.GetString("request_id")).
			Error("Cannot read certificate cache statistics")
		h.cacheError(c, "Cannot read certificate cache statistics", "CACHE_STATS_FAILED")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":     stats,
		"health":    h.cacheService.Health(),
		"timestamp": time.Now(),
	})
}

// Clear drops every cached certificate
// @Summary Clear the certificate cache
// @Description Drop every cached certificate so the next request reaches the site
// @Tags Cache
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} models.ErrorResponse
// @Router /cache/clear [delete]
func (h *CacheHandler) Clear(c *gin.Context) {
	logger := h.logger.WithField("request_id", c.GetString("request_id"))

	removed, err := h.cacheService.Clear(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Cannot clear certificate cache")
		h.cacheError(c, "Cannot clear certificate cache", "CACHE_CLEAR_FAILED")
		return
	}

	logger.WithField("removed", removed).Info("Certificate cache cleared")
	c.JSON(http.StatusOK, gin.H{
		"removed":   removed,
		"timestamp": time.Now(),
	})
}

func (h *CacheHandler) cacheError(c *gin.Context, message, code string) {
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:     "Internal server error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

// Delete handles deletion of one cached certificate
// @Summary Delete a cached certificate
// @Description Delete the cached certificate of one property
// @Tags Cache
// @Param region path string true "Region code" example(06)
// @Param comuna path string true "Comuna code" example(06101)
// @Param manzana path string true "Block number" example(500)
// @Param predio path string true "Parcel number" example(295)
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /cache/{region}/{comuna}/{manzana}/{predio} [delete]
func (h *CacheHandler) Delete(c *gin.Context) {
	requestID := c.GetString("request_id")

	locator := utils.NormalizeLocator(models.Locator{
		Region:  c.Param("region"),
		Comuna:  c.Param("comuna"),
		Manzana: c.Param("manzana"),
		Predio:  c.Param("predio"),
	})
	if err := utils.ValidateLocator(locator); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:     "Invalid locator",
			Message:   err.Error(),
			Code:      "INVALID_LOCATOR",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}

	key := locator.Key()
	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"key":        key,
	})

	if _, err := h.cacheService.Get(c.Request.Context(), key); err != nil {
		logger.Info("Certificate not found in cache")
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:     "Not found",
			Message:   "Certificate not found in cache",
			Code:      "NOT_IN_CACHE",
			Timestamp: time.Now(),
			Path:      c.Request.URL.Path,
		})
		return
	}

	if err := h.cacheService.Delete(c.Request.Context(), key); err != nil {
		logger.WithError(err).Error("Cannot delete cached certificate")
		h.cacheError(c, "Cannot delete cached certificate", "CACHE_DELETE_FAILED")
		return
	}

	logger.Info("Certificate deleted from cache")
	c.JSON(http.StatusOK, gin.H{
		"deleted":   key,
		"timestamp": time.Now(),
	})
}
