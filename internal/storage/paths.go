// Package storage owns the on-disk layout of runs: the append-only event log
// plus the per-run workspace and screenshot trees.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Paths resolves run-scoped locations under a single storage root.
type Paths struct {
	Root string
}

// NewPaths creates the resolver and ensures the runs directory exists.
func NewPaths(root string) (*Paths, error) {
	p := &Paths{Root: root}
	if err := os.MkdirAll(filepath.Join(root, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs dir: %w", err)
	}
	return p, nil
}

// NewRunID mints a run identifier that sorts by creation time: a UTC
// timestamp prefix plus a short random suffix.
func NewRunID() string {
	ts := time.Now().UTC().Format("2006-01-02T15-04-05Z")
	return ts + "_" + uuid.New().String()[:4]
}

// RunDir returns the directory holding everything belonging to a run.
func (p *Paths) RunDir(runID string) string {
	return filepath.Join(p.Root, "runs", runID)
}

// EventsPath returns the run's append-only event log file, creating the run
// directory if needed.
func (p *Paths) EventsPath(runID string) (string, error) {
	dir := p.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create run dir: %w", err)
	}
	return filepath.Join(dir, "events.jsonl"), nil
}

// WorkspaceDir returns the run's workspace directory, creating it if needed.
func (p *Paths) WorkspaceDir(runID string) (string, error) {
	dir := filepath.Join(p.RunDir(runID), "workspace")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace dir: %w", err)
	}
	return dir, nil
}

// ScreenshotsDir returns the run's screenshot directory, creating it if needed.
func (p *Paths) ScreenshotsDir(runID string) (string, error) {
	dir := filepath.Join(p.RunDir(runID), "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create screenshots dir: %w", err)
	}
	return dir, nil
}

// SnapPath returns the screenshot artifact path for one iteration.
func (p *Paths) SnapPath(runID string, iteration int) (string, error) {
	dir, err := p.ScreenshotsDir(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("snap_%d.png", iteration)), nil
}

// SnapURL returns the /static URL under which SnapPath is served.
func (p *Paths) SnapURL(runID string, iteration int) string {
	return fmt.Sprintf("/static/runs/%s/screenshots/snap_%d.png", runID, iteration)
}
