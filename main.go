package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dage/vibe-coding-iterator/config"
	"github.com/dage/vibe-coding-iterator/internal/adapter/browser"
	"github.com/dage/vibe-coding-iterator/internal/adapter/model"
	"github.com/dage/vibe-coding-iterator/internal/engine"
	"github.com/dage/vibe-coding-iterator/internal/storage"
	transport "github.com/dage/vibe-coding-iterator/internal/transport/http"
	"github.com/dage/vibe-coding-iterator/policy"
)

func main() {
	// Load configuration
	cfg := config.Load()

	log.Printf("Starting iteration engine...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Storage Root: %s", cfg.StorageRoot)
	log.Printf("Code Model: %s", cfg.CodeModel)
	log.Printf("Vision Model: %s", cfg.VisionModel)

	// Initialize storage layout and event log
	paths, err := storage.NewPaths(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	eventLog := storage.NewEventLog(paths)

	// Initialize collaborators
	modelClient := model.NewModelClient(model.Config{
		BaseURL:     cfg.ModelBaseURL,
		APIKey:      cfg.APIKey,
		CodeModel:   cfg.CodeModel,
		VisionModel: cfg.VisionModel,
		AppName:     cfg.AppName,
		Timeout:     cfg.ModelTimeout,
	})
	capturer := browser.NewScreenshotCapturer(browser.Config{
		Headless:       cfg.Headless,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
	})

	// Initialize policy engine
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize engine
	bus := engine.NewBus(eventLog, cfg.QueueSize)
	handlers := engine.NewHandlers(modelClient, capturer, paths, engine.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	})
	loop := engine.NewLoop(bus, handlers, engine.LoopConfig{
		IterationBudget: cfg.IterationBudget,
		StepDelay:       cfg.StepDelay,
	})

	// Initialize HTTP adapter
	h := transport.NewHandler(loop, bus, paths, policyEngine)
	server := transport.NewServer(h, cfg.StorageRoot, cfg.WebRoot)

	// Start server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Start the run
	if err := loop.Start(ctx); err != nil {
		log.Fatalf("Failed to start run: %v", err)
	}
	log.Printf("Run %s started on port %d", loop.RunID(), cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	// Stop the loop and wait for it to drain
	cancel()
	select {
	case <-loop.Done():
	case <-time.After(5 * time.Second):
		log.Printf("WARN: run loop did not stop in time")
	}

	if closer, ok := capturer.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Printf("WARN: failed to close browser: %v", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}

	log.Println("Stopped")
}
