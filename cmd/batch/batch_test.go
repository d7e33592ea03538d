package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nexconsult/avaluo-api/internal/logger"
	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedService fails the runs listed in failures and succeeds otherwise
type scriptedService struct {
	mu       sync.Mutex
	failures map[int]error
	calls    int
}

func (s *scriptedService) ProcessForm(ctx context.Context, locator models.Locator) (*models.ProcessFormResponse, error) {
	return nil, fmt.Errorf("not used")
}

func (s *scriptedService) GetSession(sessionID string) (*models.SessionResponse, error) {
	return nil, services.ErrSessionNotFound
}

func (s *scriptedService) SubmitCaptcha(ctx context.Context, sessionID, captchaValue string) ([]byte, error) {
	return nil, services.ErrSessionNotFound
}

func (s *scriptedService) AutoSubmit(ctx context.Context, locator models.Locator) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	err, ok := s.failures[s.calls]
	s.mu.Unlock()
	if ok {
		return nil, err
	}
	return []byte("%PDF-1.4 run"), nil
}

func (s *scriptedService) Health() map[string]interface{} { return nil }

func TestRunBatchWritesResults(t *testing.T) {
	dir := t.TempDir()
	service := &scriptedService{failures: map[int]error{
		2: fmt.Errorf("%w after 3 attempts: %w", services.ErrAttemptsExhausted, services.ErrPopupNotOpened),
	}}
	opts := batchOptions{
		runs:    3,
		locator: models.Locator{Region: "06", Comuna: "06101", Manzana: "500", Predio: "295"},
		output:  dir,
	}

	summary, err := runBatch(context.Background(), service, opts, logger.Discard())

	require.NoError(t, err)
	assert.Equal(t, 3, summary.Runs)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.ByKind["POPUP_NOT_OPENED"])

	assert.FileExists(t, filepath.Join(dir, "avaluo_run_001.pdf"))
	assert.NoFileExists(t, filepath.Join(dir, "avaluo_run_002.pdf"))
	assert.FileExists(t, filepath.Join(dir, "avaluo_run_003.pdf"))

	raw, err := os.ReadFile(filepath.Join(dir, resultsFile))
	require.NoError(t, err)
	var written Summary
	require.NoError(t, json.Unmarshal(raw, &written))
	require.Len(t, written.Results, 3)
	assert.False(t, written.Results[1].Success)
	assert.Equal(t, "POPUP_NOT_OPENED", written.Results[1].Kind)
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	service := &scriptedService{}

	summary, err := runBatch(ctx, service, batchOptions{runs: 5, output: t.TempDir()}, logger.Discard())

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Runs)
	assert.Equal(t, 0, service.calls)
}

func TestRunBatchParallelWorkers(t *testing.T) {
	dir := t.TempDir()
	service := &scriptedService{}

	summary, err := runBatch(context.Background(), service, batchOptions{runs: 6, workers: 3, output: dir}, logger.Discard())

	require.NoError(t, err)
	assert.Equal(t, 6, summary.Succeeded)
	assert.Equal(t, 6, service.calls)
	for i, result := range summary.Results {
		assert.Equal(t, i+1, result.Run)
		assert.FileExists(t, result.Path)
	}
}

func TestRunBatchRejectsZeroRuns(t *testing.T) {
	_, err := runBatch(context.Background(), &scriptedService{}, batchOptions{output: t.TempDir()}, logger.Discard())
	assert.Error(t, err)
}

func TestRootCommandRequiresLocator(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--runs", "1"})
	cmd.SetOut(new(nopWriter))
	cmd.SetErr(new(nopWriter))

	err := cmd.Execute()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
