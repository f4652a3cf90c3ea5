// Package browser captures screenshots of workspace documents with a
// headless Chromium driven over CDP.
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/dage/vibe-coding-iterator/internal/engine"
)

// Config holds viewport and launch settings.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
}

// Capturer implements engine.Capturer over a lazily launched browser. The
// browser survives across iterations; pages are opened per capture.
type Capturer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
}

var _ engine.Capturer = (*Capturer)(nil)

// NewCapturer creates the capturer without launching anything yet.
func NewCapturer(cfg Config) *Capturer {
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 1280
	}
	if cfg.ViewportHeight <= 0 {
		cfg.ViewportHeight = 720
	}
	return &Capturer{cfg: cfg}
}

func (c *Capturer) ensureStarted(ctx context.Context) (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return c.browser, nil
	}

	controlURL, err := launcher.New().Headless(c.cfg.Headless).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}
	c.browser = browser
	return browser, nil
}

// CaptureHTML renders the local HTML file and writes a PNG of the viewport
// to outPath.
func (c *Capturer) CaptureHTML(ctx context.Context, htmlPath, outPath string) error {
	browser, err := c.ensureStarted(ctx)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(htmlPath)
	if err != nil {
		return fmt.Errorf("failed to resolve html path: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "file://" + abs})
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.ViewportWidth,
		Height:            c.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}

	png, err := page.Screenshot(false, nil)
	if err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	if err := os.WriteFile(outPath, png, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// Close shuts the browser down.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}
