package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/storage"
)

// workspaceSeed is the document a fresh run's workspace starts from.
const workspaceSeed = "<!doctype html><title>Vibe</title><h1>Vibe</h1><div id='app'></div>"

// ModelMessage is one turn of the conversation sent to the model collaborator.
type ModelMessage struct {
	Role    string               `json:"role"`
	Content []domain.ContentPart `json:"content"`
}

// ModelClient is the code/vision model collaborator. route selects which
// model answers.
type ModelClient interface {
	Exchange(ctx context.Context, route domain.Route, messages []ModelMessage) (string, error)
}

// Capturer is the browser screenshot collaborator.
type Capturer interface {
	CaptureHTML(ctx context.Context, htmlPath, outPath string) error
}

// RetryConfig bounds retries around flaky collaborator calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// IterationResult is what one iteration's external work produced.
type IterationResult struct {
	ResponseText  string
	ScreenshotURL string
}

// Handlers executes one iteration's external work and isolates the run loop
// from collaborator failure details. Handlers never touch the bus or the
// log; the loop alone emits events, so emission stays single-threaded.
type Handlers struct {
	model    ModelClient
	capturer Capturer
	paths    *storage.Paths
	retry    RetryConfig

	// Conversation history. Mutated only from the loop goroutine.
	history []ModelMessage
}

// NewHandlers wires the two collaborators and the retry policy.
func NewHandlers(model ModelClient, capturer Capturer, paths *storage.Paths, retry RetryConfig) *Handlers {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 500 * time.Millisecond
	}
	return &Handlers{
		model:    model,
		capturer: capturer,
		paths:    paths,
		retry:    retry,
	}
}

// Iterate performs the iteration's two external calls: the model exchange
// and the screenshot capture, each retried on transient failure. A
// non-transient failure, or retry exhaustion, propagates as fatal.
func (h *Handlers) Iterate(ctx context.Context, runID string, iteration int, prompt domain.PromptCommand) (*IterationResult, error) {
	h.history = append(h.history, ModelMessage{Role: "user", Content: prompt.Content})

	var reply string
	err := h.withRetry(ctx, func() error {
		out, err := h.model.Exchange(ctx, prompt.RouteTo, h.history)
		if err != nil {
			return err
		}
		reply = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("model exchange failed: %w", err)
	}
	h.history = append(h.history, ModelMessage{Role: "assistant", Content: []domain.ContentPart{domain.TextPart(reply)}})

	indexPath, err := h.patchWorkspace(runID, iteration)
	if err != nil {
		return nil, err
	}

	outPath, err := h.paths.SnapPath(runID, iteration)
	if err != nil {
		return nil, err
	}
	err = h.withRetry(ctx, func() error {
		return h.capturer.CaptureHTML(ctx, indexPath, outPath)
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	return &IterationResult{
		ResponseText:  reply,
		ScreenshotURL: h.paths.SnapURL(runID, iteration),
	}, nil
}

// patchWorkspace seeds the workspace index on first use and appends an
// iteration marker so successive screenshots differ.
func (h *Handlers) patchWorkspace(runID string, iteration int) (string, error) {
	dir, err := h.paths.WorkspaceDir(runID)
	if err != nil {
		return "", err
	}
	indexPath := filepath.Join(dir, "index.html")

	raw, err := os.ReadFile(indexPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read workspace index: %w", err)
		}
		raw = []byte(workspaceSeed)
	}
	marker := fmt.Sprintf("\n<!-- iter:%d -->\n", iteration)
	html := string(raw)
	if !strings.Contains(html, marker) {
		html += marker
	}
	if err := os.WriteFile(indexPath, []byte(html), 0o644); err != nil {
		return "", fmt.Errorf("failed to write workspace index: %w", err)
	}
	return indexPath, nil
}

// withRetry runs fn with exponential backoff, doubling from the base delay.
// Only transient failures are retried; everything else returns immediately.
func (h *Handlers) withRetry(ctx context.Context, fn func() error) error {
	delay := h.retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= h.retry.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == h.retry.MaxAttempts || !IsTransient(lastErr) {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}
