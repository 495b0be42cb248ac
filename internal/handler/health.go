package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	ops     service.Operations
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, ops service.Operations) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, ops: ops}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	UpstreamURL string   `json:"upstream_url"`
	Operations  []string `json:"operations"`
}

// Status returns gateway status information.
func (h *HealthHandler) Status(c echo.Context) error {
	routes := make([]string, 0, len(h.ops))
	for _, op := range h.ops {
		routes = append(routes, op.Route)
	}
	return c.JSON(http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		UpstreamURL: h.cfg.Upstream.BaseURL,
		Operations:  routes,
	})
}
