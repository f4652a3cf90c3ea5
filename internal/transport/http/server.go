package http

import (
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer creates and configures the HTTP server: the API routes, the
// /static mount over the storage root (screenshot URLs resolve there) and
// the web UI at the root.
func NewServer(h *Handler, storageRoot, webRoot string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)

	e.Static("/static", storageRoot)
	if _, err := os.Stat(webRoot); err == nil {
		e.Static("/", webRoot)
	}

	return e
}
