package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/sirupsen/logrus"
)

// SessionState is the position of a session in the flow
type SessionState string

const (
	StateAwaitingCaptcha    SessionState = "AwaitingCaptcha"
	StateSubmitting         SessionState = "Submitting"
	StateExtractingArtifact SessionState = "ExtractingArtifact"
	StateCompleted          SessionState = "Completed"
	StateFailed             SessionState = "Failed"
)

// Terminal reports whether the state closes the session
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Session is one end-to-end attempt. It exclusively owns its browser.
type Session struct {
	ID           string
	Locator      models.Locator
	CaptchaImage []byte
	CaptchaMIME  string
	CreatedAt    time.Time

	browser   BrowserContext
	mu        sync.Mutex
	state     SessionState
	closeOnce sync.Once
}

// Browser returns the browsing context owned by the session
func (s *Session) Browser() BrowserContext {
	return s.browser
}

// State returns the current state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session from one state to the next
func (s *Session) transition(from, to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != from {
		if from == StateAwaitingCaptcha {
			return fmt.Errorf("%w: %s is %s", ErrSessionBusy, s.ID, s.state)
		}
		return fmt.Errorf("invalid session transition %s -> %s (state %s)", from, to, s.state)
	}
	s.state = to
	return nil
}

// terminate marks the session terminal and closes its browser. Only the
// first call has any effect; it reports whether it did.
func (s *Session) terminate(state SessionState, logger *logrus.Entry) bool {
	terminated := false
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = state
		s.mu.Unlock()

		if err := s.browser.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close session browser")
		}
		terminated = true
	})
	return terminated
}

// SessionStore is the process-wide table of live sessions
type SessionStore struct {
	ttl      time.Duration
	logger   *logrus.Logger
	metrics  *Metrics
	sessions map[string]*Session
	mu       sync.RWMutex
	now      func() time.Time
}

// NewSessionStore creates a new session store
func NewSessionStore(ttl time.Duration, metrics *Metrics, logger *logrus.Logger) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a session awaiting its CAPTCHA answer
func (s *SessionStore) Create(locator models.Locator, image []byte, mimeType string, browser BrowserContext) *Session {
	session := &Session{
		ID:           uuid.New().String(),
		Locator:      locator,
		CaptchaImage: image,
		CaptchaMIME:  mimeType,
		CreatedAt:    s.now(),
		browser:      browser,
		state:        StateAwaitingCaptcha,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"browser_id": browser.ID(),
		"active":     count,
	}).Info("Session created")

	return session
}

// Get returns a live session
func (s *SessionStore) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return session, nil
}

// Remove discards a session, closing its browser
func (s *SessionStore) Remove(sessionID string) {
	s.finish(sessionID, StateFailed)
}

// Complete marks a session successful and discards it
func (s *SessionStore) Complete(sessionID string) {
	s.finish(sessionID, StateCompleted)
}

// Fail marks a session failed and discards it
func (s *SessionStore) Fail(sessionID string) {
	s.finish(sessionID, StateFailed)
}

func (s *SessionStore) finish(sessionID string, state SessionState) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if !ok {
		return
	}
	s.close(session, state, "finished")
}

func (s *SessionStore) close(session *Session, state SessionState, reason string) {
	entry := s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"state":      state,
		"reason":     reason,
	})
	if session.terminate(state, entry) {
		s.metrics.SessionClosed(state)
		entry.WithField("age", s.now().Sub(session.CreatedAt)).Info("Session closed")
	}
}

// SweepExpired closes every session older than the TTL that is still
// waiting for its answer and returns how many were removed. Sessions being
// submitted or extracted belong to their driver and are left alone.
func (s *SessionStore) SweepExpired(now time.Time) int {
	s.mu.Lock()
	expired := make([]*Session, 0)
	for id, session := range s.sessions {
		if now.Sub(session.CreatedAt) <= s.ttl {
			continue
		}
		// Claiming the state keeps a concurrent submit from picking it up.
		if session.transition(StateAwaitingCaptcha, StateFailed) != nil {
			continue
		}
		expired = append(expired, session)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, session := range expired {
		s.close(session, StateFailed, "expired")
	}
	if len(expired) > 0 {
		s.logger.WithField("expired", len(expired)).Info("Expired sessions swept")
	}
	return len(expired)
}

// StartSweeper sweeps expired sessions every interval until ctx is done
func (s *SessionStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepExpired(s.now())
			}
		}
	}()
}

// Len returns the number of live sessions
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// TTL returns the idle lifetime of a session
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// GetStats returns session store statistics
func (s *SessionStore) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byState := make(map[SessionState]int)
	oldest := time.Duration(0)
	now := s.now()
	for _, session := range s.sessions {
		byState[session.State()]++
		if age := now.Sub(session.CreatedAt); age > oldest {
			oldest = age
		}
	}

	return map[string]interface{}{
		"active_sessions": len(s.sessions),
		"by_state":        byState,
		"oldest_age":      oldest.String(),
		"ttl":             s.ttl.String(),
	}
}

// Close closes every session
func (s *SessionStore) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		s.close(session, StateFailed, "shutdown")
	}
}
