// Package model provides the chat-completions client for the code and
// vision collaborators, speaking the OpenAI-compatible OpenRouter API.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/engine"
)

// APIError is a non-2xx response from the model API. Transient statuses are
// retried by the engine's handlers; 402 (insufficient credits) never is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model api status %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status is worth retrying: rate limits,
// request timeouts and server-side failures.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// transportError wraps network-level failures, which are always transient.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return "model api unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// Config holds the client settings. AppName feeds the attribution headers
// OpenRouter requires.
type Config struct {
	BaseURL     string
	APIKey      string
	CodeModel   string
	VisionModel string
	AppName     string
	Timeout     time.Duration
}

// Client is the production model collaborator.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ engine.ModelClient = (*Client)(nil)

// NewClient creates a chat-completions client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string               `json:"role"`
	Content []domain.ContentPart `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Exchange sends the conversation to the model selected by route and
// returns the assistant reply text.
func (c *Client) Exchange(ctx context.Context, route domain.Route, messages []engine.ModelMessage) (string, error) {
	model := c.cfg.CodeModel
	if route == domain.RouteVision {
		model = c.cfg.VisionModel
	}

	reqBody := chatRequest{Model: model}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Title", c.cfg.AppName)
	req.Header.Set("HTTP-Referer", fmt.Sprintf("https://%s.local", slug(c.cfg.AppName)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return "", &transportError{err: err}
		}
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &transportError{err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
