package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler exposes the collectors of reg in the Prometheus text format
// @Summary Get metrics
// @Description Prometheus metrics of the flow, the Go runtime and the process
// @Tags Metrics
// @Produce plain
// @Success 200 {string} string
// @Router /metrics [get]
func NewMetricsHandler(reg *prometheus.Registry) gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
}
