package models

import (
	"fmt"
	"time"
)

// Locator identifies a property in the SII roll
type Locator struct {
	Region  string `json:"region" binding:"required" example:"06"`
	Comuna  string `json:"comuna" binding:"required" example:"06101"`
	Manzana string `json:"manzana" binding:"required" example:"500"`
	Predio  string `json:"predio" binding:"required" example:"295"`
}

// Key returns the cache key of the locator
func (l Locator) Key() string {
	return fmt.Sprintf("avaluo:%s:%s:%s:%s", l.Region, l.Comuna, l.Manzana, l.Predio)
}

// ProcessFormResponse is returned once the CAPTCHA page is reached
type ProcessFormResponse struct {
	SessionID   string    `json:"session_id" example:"5f0c2a9e-3f53-4a8e-9d0b-1b4b6d9b2c11"`
	Captcha     string    `json:"captcha" example:"iVBORw0KGgoAAAANSUhEUgAA..."`
	CaptchaMIME string    `json:"captcha_mime" example:"image/png"`
	ExpiresAt   time.Time `json:"expires_at" example:"2024-01-15T10:35:00Z"`
}

// SessionResponse describes a stored session
type SessionResponse struct {
	SessionID   string    `json:"session_id"`
	Captcha     string    `json:"captcha"`
	CaptchaMIME string    `json:"captcha_mime"`
	State       string    `json:"state" example:"AwaitingCaptcha"`
	CreatedAt   time.Time `json:"created_at"`
}

// SubmitCaptchaRequest answers the CAPTCHA of a session
type SubmitCaptchaRequest struct {
	SessionID    string `json:"session_id" binding:"required"`
	CaptchaValue string `json:"captcha_value" binding:"required" example:"4821"`
}
