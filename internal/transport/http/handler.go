// Package http adapts the iteration engine to its HTTP/SSE surface.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/labstack/echo/v4"

	"github.com/dage/vibe-coding-iterator/internal/domain"
	"github.com/dage/vibe-coding-iterator/internal/engine"
	"github.com/dage/vibe-coding-iterator/internal/storage"
	"github.com/dage/vibe-coding-iterator/policy"
)

// Handler turns inbound HTTP requests into commands and the bus into an SSE
// stream.
type Handler struct {
	loop         *engine.Loop
	bus          *engine.Bus
	paths        *storage.Paths
	policyEngine *policy.Engine
}

// NewHandler creates the HTTP adapter.
func NewHandler(loop *engine.Loop, bus *engine.Bus, paths *storage.Paths, policyEngine *policy.Engine) *Handler {
	return &Handler{
		loop:         loop,
		bus:          bus,
		paths:        paths,
		policyEngine: policyEngine,
	}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/api/events", h.StreamEvents)
	e.POST("/api/control", h.Control)
	e.POST("/api/prompt", h.Prompt)
	e.GET("/api/workspace", h.Workspace)
	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"state":  string(h.loop.State()),
	})
}

// StreamEvents opens a subscriber and streams one JSON-encoded event per SSE
// message: a replay of everything logged for the current run, then live
// events. The stream ends when the client disconnects or the subscriber is
// dropped for lagging.
func (h *Handler) StreamEvents(c echo.Context) error {
	sub, err := h.bus.Subscribe(h.loop.RunID())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer h.bus.Unsubscribe(sub)

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				// Dropped by the bus: the queue overflowed.
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return nil
			}
			w.Flush()
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

// Control accepts a pause/resume command. The response acknowledges
// acceptance; the loop applies the command between iterations.
func (h *Handler) Control(c echo.Context) error {
	var cmd domain.ControlCommand
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := cmd.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := h.loop.Apply(cmd); err != nil {
		if errors.Is(err, engine.ErrNoActiveRun) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Prompt validates, policy-checks and enqueues a prompt command for the next
// iteration.
func (h *Handler) Prompt(c echo.Context) error {
	var cmd domain.PromptCommand
	if err := c.Bind(&cmd); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := cmd.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	decision, reason, err := h.policyEngine.Evaluate(c.Request().Context(), map[string]interface{}{
		"actor":    string(cmd.Actor),
		"route_to": string(cmd.RouteTo),
		"parts":    len(cmd.Content),
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if decision != "allow" {
		msg := "prompt rejected by policy"
		if reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, reason)
		}
		return c.JSON(http.StatusForbidden, map[string]string{"error": msg})
	}

	if err := h.loop.InjectPrompt(cmd); err != nil {
		if errors.Is(err, engine.ErrNoActiveRun) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// Workspace lists the active run's workspace directory.
func (h *Handler) Workspace(c echo.Context) error {
	runID := h.loop.RunID()
	if runID == "" {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no active run"})
	}
	tree, err := storage.ShallowTree(filepath.Join(h.paths.RunDir(runID), "workspace"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id": runID,
		"items":  tree,
	})
}
