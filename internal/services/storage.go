package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// DocumentStore writes generated documents and failure diagnostics to disk
type DocumentStore struct {
	outputDir      string
	diagnosticsDir string
	logger         *logrus.Logger
	now            func() time.Time
}

// NewDocumentStore creates a new document store. Empty directories disable the matching writes.
func NewDocumentStore(outputDir, diagnosticsDir string, logger *logrus.Logger) *DocumentStore {
	return &DocumentStore{
		outputDir:      outputDir,
		diagnosticsDir: diagnosticsDir,
		logger:         logger,
		now:            time.Now,
	}
}

// Save writes data as avaluo_<timestamp>.pdf and returns the path
func (d *DocumentStore) Save(data []byte) (string, error) {
	if d.outputDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(d.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	name := fmt.Sprintf("avaluo_%s.pdf", d.now().Format("20060102T150405.000000000"))
	path := filepath.Join(d.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write document: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Info("Document saved")
	return path, nil
}

// Diagnostics lists the files written for a failed session
type Diagnostics struct {
	HTMLPath       string `json:"html_path,omitempty"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

// SaveDiagnostics captures the page HTML and a screenshot of a failing
// session. It must run before the session browser is closed.
func (d *DocumentStore) SaveDiagnostics(ctx context.Context, sessionID string, browser BrowserContext) (*Diagnostics, error) {
	if d.diagnosticsDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(d.diagnosticsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create diagnostics dir: %w", err)
	}

	diag := &Diagnostics{}
	var firstErr error

	if html, err := browser.HTML(ctx); err == nil {
		path := filepath.Join(d.diagnosticsDir, fmt.Sprintf("error_%s.html", sessionID))
		if err := os.WriteFile(path, []byte(html), 0o644); err == nil {
			diag.HTMLPath = path
		} else {
			firstErr = err
		}
	} else {
		firstErr = err
	}

	if shot, err := browser.Screenshot(ctx); err == nil {
		path := filepath.Join(d.diagnosticsDir, fmt.Sprintf("error_%s.png", sessionID))
		if err := os.WriteFile(path, shot, 0o644); err == nil {
			diag.ScreenshotPath = path
		} else if firstErr == nil {
			firstErr = err
		}
	} else if firstErr == nil {
		firstErr = err
	}

	d.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"html":       diag.HTMLPath,
		"screenshot": diag.ScreenshotPath,
	}).Info("Failure diagnostics saved")
	return diag, firstErr
}
