package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/utils"
	"github.com/sirupsen/logrus"
)

// AvaluoService implements the valuation certificate flow behind the HTTP layer
type AvaluoService struct {
	orchestrator *Orchestrator
	store        *SessionStore
	cache        CacheServiceInterface
	documents    *DocumentStore
	logger       *logrus.Logger

	requests  atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewAvaluoService creates a new valuation service. cache and documents may be nil.
func NewAvaluoService(orchestrator *Orchestrator, store *SessionStore, cache CacheServiceInterface, documents *DocumentStore, logger *logrus.Logger) *AvaluoService {
	return &AvaluoService{
		orchestrator: orchestrator,
		store:        store,
		cache:        cache,
		documents:    documents,
		logger:       logger,
	}
}

func normalize(locator models.Locator) (models.Locator, error) {
	normalized := utils.NormalizeLocator(locator)
	if err := utils.ValidateLocator(normalized); err != nil {
		return normalized, fmt.Errorf("%w: %v", ErrInvalidLocator, err)
	}
	return normalized, nil
}

// ProcessForm fills the form and returns a session holding the CAPTCHA image
func (s *AvaluoService) ProcessForm(ctx context.Context, locator models.Locator) (*models.ProcessFormResponse, error) {
	s.requests.Add(1)
	locator, err := normalize(locator)
	if err != nil {
		return nil, err
	}

	session, err := s.orchestrator.Form(ctx, locator)
	if err != nil {
		s.failed.Add(1)
		return nil, err
	}

	return &models.ProcessFormResponse{
		SessionID:   session.ID,
		Captcha:     base64.StdEncoding.EncodeToString(session.CaptchaImage),
		CaptchaMIME: session.CaptchaMIME,
		ExpiresAt:   session.CreatedAt.Add(s.store.TTL()),
	}, nil
}

// GetSession returns the CAPTCHA of a live session
func (s *AvaluoService) GetSession(sessionID string) (*models.SessionResponse, error) {
	session, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	return &models.SessionResponse{
		SessionID:   session.ID,
		Captcha:     base64.StdEncoding.EncodeToString(session.CaptchaImage),
		CaptchaMIME: session.CaptchaMIME,
		State:       string(session.State()),
		CreatedAt:   session.CreatedAt,
	}, nil
}

// SubmitCaptcha answers the CAPTCHA of a session and returns the certificate
func (s *AvaluoService) SubmitCaptcha(ctx context.Context, sessionID, captchaValue string) ([]byte, error) {
	s.requests.Add(1)
	start := time.Now()
	logger := s.logger.WithField("session_id", sessionID)

	// Read before the flow removes the session.
	var key string
	if session, err := s.store.Get(sessionID); err == nil {
		key = session.Locator.Key()
	}

	data, err := s.orchestrator.Resume(ctx, sessionID, captchaValue)
	if err != nil {
		s.failed.Add(1)
		logger.WithError(err).WithField("kind", KindOf(err)).Warn("CAPTCHA submission failed")
		return nil, err
	}

	s.deliver(ctx, key, data, logger)
	logger.WithField("duration", time.Since(start)).Info("Certificate obtained")
	return data, nil
}

// AutoSubmit runs the whole flow reading the CAPTCHA with the oracle
func (s *AvaluoService) AutoSubmit(ctx context.Context, locator models.Locator) ([]byte, error) {
	s.requests.Add(1)
	start := time.Now()
	locator, err := normalize(locator)
	if err != nil {
		return nil, err
	}

	key := locator.Key()
	logger := s.logger.WithField("locator", key)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil && len(cached) > 0 {
			logger.WithField("duration", time.Since(start)).Info("Certificate found in cache")
			s.delivered.Add(1)
			return cached, nil
		}
	}

	data, err := s.orchestrator.Run(ctx, locator)
	if err != nil {
		s.failed.Add(1)
		logger.WithError(err).WithField("kind", KindOf(err)).Error("Automatic resolution failed")
		return nil, err
	}

	s.deliver(ctx, key, data, logger)
	logger.WithField("duration", time.Since(start)).Info("Certificate obtained")
	return data, nil
}

// deliver caches and persists a document. Neither failure reaches the caller.
func (s *AvaluoService) deliver(ctx context.Context, key string, data []byte, logger *logrus.Entry) {
	s.delivered.Add(1)

	if s.cache != nil && key != "" {
		if err := s.cache.Set(ctx, key, data); err != nil {
			logger.WithError(err).Warn("Failed to cache certificate")
		}
	}
	if s.documents != nil {
		if _, err := s.documents.Save(data); err != nil {
			logger.WithError(err).Warn("Failed to persist certificate")
		}
	}
}

// Health returns service health status
func (s *AvaluoService) Health() map[string]interface{} {
	status := "healthy"
	if !s.orchestrator.HasOracle() {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":          status,
		"oracle_enabled":  s.orchestrator.HasOracle(),
		"cache_enabled":   s.cache != nil,
		"active_sessions": s.store.Len(),
		"request_count":   s.requests.Load(),
		"delivered_count": s.delivered.Load(),
		"failed_count":    s.failed.Load(),
	}
}
