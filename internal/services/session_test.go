package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration) *SessionStore {
	return NewSessionStore(ttl, nil, logger.Discard())
}

func TestSessionStoreCreateAndGet(t *testing.T) {
	store := newTestStore(time.Minute)
	browser := newFakeBrowser("b1", nil)

	session := store.Create(testLocator, testPNG, "image/png", browser)

	got, err := store.Get(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)
	assert.Equal(t, StateAwaitingCaptcha, got.State())
	assert.Equal(t, testLocator, got.Locator)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, browser.closeCount())
}

func TestSessionStoreUnknownID(t *testing.T) {
	store := newTestStore(time.Minute)

	_, err := store.Get("never-issued")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionStoreRemoveClosesOnce(t *testing.T) {
	store := newTestStore(time.Minute)
	browser := newFakeBrowser("b1", nil)
	session := store.Create(testLocator, testPNG, "image/png", browser)

	store.Remove(session.ID)
	store.Remove(session.ID)
	store.Complete(session.ID)

	_, err := store.Get(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, browser.closeCount())
	assert.Equal(t, StateFailed, session.State())
}

func TestSessionStoreCloseErrorIsNotPropagated(t *testing.T) {
	store := newTestStore(time.Minute)
	browser := newFakeBrowser("b1", nil)
	browser.closeErr = errors.New("target crashed")
	session := store.Create(testLocator, testPNG, "image/png", browser)

	assert.NotPanics(t, func() { store.Fail(session.ID) })
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, browser.closeCount())
}

func TestSessionStoreSweepExpired(t *testing.T) {
	store := newTestStore(time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := newFakeBrowser("old", nil)
	oldSession := store.Create(testLocator, testPNG, "image/png", old)

	now = now.Add(45 * time.Second)
	fresh := newFakeBrowser("fresh", nil)
	freshSession := store.Create(testLocator, testPNG, "image/png", fresh)

	removed := store.SweepExpired(now.Add(30 * time.Second))

	assert.Equal(t, 1, removed)
	_, err := store.Get(oldSession.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(freshSession.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, old.closeCount())
	assert.Equal(t, 0, fresh.closeCount())
}

func TestSessionStoreSweepSkipsInFlight(t *testing.T) {
	store := newTestStore(time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	submitting := newFakeBrowser("submitting", nil)
	submittingSession := store.Create(testLocator, testPNG, "image/png", submitting)
	require.NoError(t, submittingSession.transition(StateAwaitingCaptcha, StateSubmitting))

	extracting := newFakeBrowser("extracting", nil)
	extractingSession := store.Create(testLocator, testPNG, "image/png", extracting)
	require.NoError(t, extractingSession.transition(StateAwaitingCaptcha, StateSubmitting))
	require.NoError(t, extractingSession.transition(StateSubmitting, StateExtractingArtifact))

	idle := newFakeBrowser("idle", nil)
	store.Create(testLocator, testPNG, "image/png", idle)

	removed := store.SweepExpired(now.Add(2 * time.Minute))

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, idle.closeCount())
	assert.Equal(t, 0, submitting.closeCount())
	assert.Equal(t, 0, extracting.closeCount())
	assert.Equal(t, StateSubmitting, submittingSession.State())
	assert.Equal(t, StateExtractingArtifact, extractingSession.State())
	assert.Equal(t, 2, store.Len())

	store.Complete(submittingSession.ID)
	store.Fail(extractingSession.ID)
	assert.Equal(t, 1, submitting.closeCount())
	assert.Equal(t, 1, extracting.closeCount())
	assert.Equal(t, 0, store.Len())
}

func TestSessionExpiredBeforeSubmitIsBusy(t *testing.T) {
	store := newTestStore(time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	session := store.Create(testLocator, testPNG, "image/png", newFakeBrowser("b1", nil))

	require.Equal(t, 1, store.SweepExpired(now.Add(2*time.Minute)))

	assert.ErrorIs(t, session.transition(StateAwaitingCaptcha, StateSubmitting), ErrSessionBusy)
}

func TestSessionTransitionBusy(t *testing.T) {
	store := newTestStore(time.Minute)
	session := store.Create(testLocator, testPNG, "image/png", newFakeBrowser("b1", nil))

	require.NoError(t, session.transition(StateAwaitingCaptcha, StateSubmitting))
	err := session.transition(StateAwaitingCaptcha, StateSubmitting)

	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, StateSubmitting, session.State())
}

func TestSessionStoreConcurrentAccess(t *testing.T) {
	store := newTestStore(time.Minute)
	var wg sync.WaitGroup
	browsers := make([]*fakeBrowser, 50)

	for i := range browsers {
		browsers[i] = newFakeBrowser(fmt.Sprintf("b%d", i), nil)
		wg.Add(1)
		go func(b *fakeBrowser) {
			defer wg.Done()
			session := store.Create(testLocator, testPNG, "image/png", b)
			_, err := store.Get(session.ID)
			assert.NoError(t, err)
			_ = store.GetStats()
			store.Remove(session.ID)
		}(browsers[i])
	}
	wg.Wait()

	assert.Equal(t, 0, store.Len())
	for _, b := range browsers {
		assert.Equal(t, 1, b.closeCount())
	}
}

func TestSessionStoreCloseAll(t *testing.T) {
	store := newTestStore(time.Minute)
	a := newFakeBrowser("a", nil)
	b := newFakeBrowser("b", nil)
	store.Create(testLocator, testPNG, "image/png", a)
	store.Create(testLocator, testPNG, "image/png", b)

	stats := store.GetStats()
	assert.Equal(t, 2, stats["active_sessions"])

	store.Close()

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, a.closeCount())
	assert.Equal(t, 1, b.closeCount())
}
