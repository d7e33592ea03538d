package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexconsult/avaluo-api/internal/models"
	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/sirupsen/logrus"
)

const resultsFile = "batch-results.json"

// RunResult is the outcome of one run
type RunResult struct {
	Run        int    `json:"run"`
	Success    bool   `json:"success"`
	Path       string `json:"path,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary is written to the results file
type Summary struct {
	Locator   models.Locator `json:"locator"`
	Runs      int            `json:"runs"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	ByKind    map[string]int `json:"by_kind"`
	Results   []RunResult    `json:"results"`
	StartedAt time.Time      `json:"started_at"`
	Duration  string         `json:"duration"`
}

// runBatch executes opts.runs runs over a pool of opts.workers workers and
// writes the results file once every dispatched run has finished.
func runBatch(ctx context.Context, service services.AvaluoServiceInterface, opts batchOptions, logger *logrus.Logger) (*Summary, error) {
	if opts.runs < 1 {
		return nil, fmt.Errorf("runs must be at least 1, got %d", opts.runs)
	}
	if opts.workers < 1 {
		opts.workers = 1
	}
	if err := os.MkdirAll(opts.output, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	summary := &Summary{
		Locator:   opts.locator,
		ByKind:    make(map[string]int),
		StartedAt: time.Now(),
	}

	pool := newRunPool(service, opts, logger)
	for _, result := range pool.run(ctx) {
		summary.Results = append(summary.Results, result)
		summary.Runs++
		if result.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
			summary.ByKind[result.Kind]++
		}
	}
	summary.Duration = time.Since(summary.StartedAt).Round(time.Millisecond).String()

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(filepath.Join(opts.output, resultsFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write results: %w", err)
	}
	return summary, nil
}

func runOnce(ctx context.Context, service services.AvaluoServiceInterface, opts batchOptions, run int) RunResult {
	start := time.Now()
	result := RunResult{Run: run}

	data, err := service.AutoSubmit(ctx, opts.locator)
	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Kind = services.KindOf(err)
		result.Error = err.Error()
		return result
	}

	path := filepath.Join(opts.output, fmt.Sprintf("avaluo_run_%03d.pdf", run))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		result.Kind = "WRITE_FAILED"
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.Path = path
	result.Bytes = len(data)
	return result
}
