package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/dage/vibe-coding-iterator/internal/engine"
)

// NewScreenshotCapturer picks the capturer based on VIBES_MODE. MOCK writes
// placeholder artifacts instead of driving a browser.
func NewScreenshotCapturer(cfg Config) engine.Capturer {
	if os.Getenv("VIBES_MODE") == "MOCK" {
		log.Println("using placeholder screenshot capturer (VIBES_MODE=MOCK)")
		return NewPlaceholderCapturer()
	}
	return NewCapturer(cfg)
}

// placeholderPNG is a valid 1x1 transparent PNG.
var placeholderPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// PlaceholderCapturer writes a fixed PNG without launching a browser.
type PlaceholderCapturer struct{}

var _ engine.Capturer = (*PlaceholderCapturer)(nil)

// NewPlaceholderCapturer creates the offline capturer.
func NewPlaceholderCapturer() *PlaceholderCapturer {
	return &PlaceholderCapturer{}
}

// CaptureHTML writes the placeholder artifact to outPath.
func (c *PlaceholderCapturer) CaptureHTML(_ context.Context, _ string, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	return os.WriteFile(outPath, placeholderPNG, 0o644)
}
