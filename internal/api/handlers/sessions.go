package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatsProvider is anything reporting a statistics map
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// SessionsHandler reports live sessions and the browsers they hold
type SessionsHandler struct {
	sessions StatsProvider
	browsers StatsProvider
	logger   *logrus.Logger
}

// NewSessionsHandler creates a new sessions handler. browsers may be nil.
func NewSessionsHandler(sessions, browsers StatsProvider, logger *logrus.Logger) *SessionsHandler {
	return &SessionsHandler{
		sessions: sessions,
		browsers: browsers,
		logger:   logger,
	}
}

// GetStats handles session statistics request
// @Summary Get session statistics
// @Description Get live session counts and browser launcher statistics
// @Tags Sessions
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sessions/stats [get]
func (h *SessionsHandler) GetStats(c *gin.Context) {
	h.logger.WithField("request_id", c.GetString("request_id")).Debug("Getting session statistics")

	response := map[string]interface{}{
		"sessions":  h.sessions.GetStats(),
		"timestamp": time.Now(),
	}
	if h.browsers != nil {
		response["browsers"] = h.browsers.GetStats()
	}

	c.JSON(http.StatusOK, response)
}
