package models

import (
	"time"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error     string    `json:"error" example:"Session not found"`
	Message   string    `json:"message" example:"The session expired or never existed"`
	Code      string    `json:"code,omitempty" example:"SESSION_NOT_FOUND"`
	Timestamp time.Time `json:"timestamp" example:"2024-01-15T10:30:00Z"`
	Path      string    `json:"path" example:"/api/v1/captcha/session/abc"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status" example:"healthy"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version" example:"1.0.0"`
	Services  map[string]ServiceInfo `json:"services"`
	Uptime    string                 `json:"uptime" example:"1h2m3s"`
}

// ServiceInfo represents the health of one dependency
type ServiceInfo struct {
	Status    string    `json:"status" example:"healthy"`
	Error     string    `json:"error,omitempty"`
	LastCheck time.Time `json:"last_check"`
}
