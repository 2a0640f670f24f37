package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	service string
	version string
	checks  map[string]HealthChecker
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler; nil checkers are skipped
func NewHealthHandler(service, version string, checks map[string]HealthChecker) *HealthHandler {
	active := make(map[string]HealthChecker, len(checks))
	for name, check := range checks {
		if check != nil {
			active[name] = check
		}
	}
	return &HealthHandler{service: service, version: version, checks: active, timeout: 2 * time.Second}
}

// Health is the liveness probe
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.service,
		"version": h.version,
	})
}

// Ready checks every dependency
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.HealthCheck(ctx); err != nil {
			checks[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "healthy"
	}

	ready := "ready"
	if status != http.StatusOK {
		ready = "not_ready"
	}
	c.JSON(status, gin.H{"status": ready, "checks": checks})
}
