package api

import (
	"context"
	"net/http"
	"time"

	"github.com/erazemk/lostfound/internal/central"
)

// HealthChecker produces the instance health report.
type HealthChecker interface {
	Health(ctx context.Context) central.HealthReport
}

// HealthHandler serves the health and liveness endpoints.
type HealthHandler struct {
	Checker    HealthChecker
	ServerName string
}

// Health handles GET /api/health. An unhealthy instance answers 503 so
// load balancers take it out of rotation.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.Checker.Health(r.Context())
	status := http.StatusOK
	if report.Status == central.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	jsonResponse(w, status, report)
}

// Ping handles GET /api/ping. It only says the process is serving.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]string{
		"server":    h.ServerName,
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
