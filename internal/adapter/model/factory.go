package model

import (
	"context"
	"log"
	"os"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/engine"
)

const (
	// EnvVibesMode selects the client implementation.
	EnvVibesMode = "VIBES_MODE"
	// ModeMock selects the offline echo client.
	ModeMock = "MOCK"
)

// NewModelClient picks the client based on VIBES_MODE. MOCK, or a missing
// API key, selects the echo client so the loop runs end-to-end offline.
func NewModelClient(cfg Config) engine.ModelClient {
	if os.Getenv(EnvVibesMode) == ModeMock || cfg.APIKey == "" {
		log.Println("using echo model client (no API key or VIBES_MODE=MOCK)")
		return NewEchoClient()
	}
	return NewClient(cfg)
}

// EchoClient answers locally with the latest user text, without calling any
// external API.
type EchoClient struct{}

var _ engine.ModelClient = (*EchoClient)(nil)

// NewEchoClient creates the offline client.
func NewEchoClient() *EchoClient {
	return &EchoClient{}
}

// Exchange returns the last text part of the final user message, or "ok"
// when the turn carried no text.
func (c *EchoClient) Exchange(_ context.Context, _ domain.Route, messages []engine.ModelMessage) (string, error) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != "user" {
			continue
		}
		for j := len(messages[i].Content) - 1; j >= 0; j-- {
			if part := messages[i].Content[j]; part.Type == domain.ContentPartText && part.Text != "" {
				return part.Text, nil
			}
		}
		break
	}
	return "ok", nil
}
