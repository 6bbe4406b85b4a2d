// Package admin serves the optional operator HTTP surface: liveness,
// status and Prometheus metrics.
package admin

import (
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"tinyhttpd-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ListenAddr reports the address the origin server is bound to, or nil
// before it has started.
type ListenAddr func() net.Addr

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	addr    ListenAddr
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, addr ListenAddr) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, addr: addr}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns server status information.
func (h *HealthHandler) Status(c echo.Context) error {
	listen := ""
	if h.addr != nil {
		if a := h.addr(); a != nil {
			listen = a.String()
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":        "ok",
		"version":       string(h.version),
		"document_root": h.cfg.Server.DocumentRoot,
		"listen_addr":   listen,
	})
}
