package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    int64             `json:"uptimeSeconds"`
	Checks    map[string]string `json:"checks"`
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks    map[string]HealthCheck
	timeout   time.Duration
	logger    *zap.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthCheck, logger *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		timeout:   3 * time.Second,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Health reports the status of every dependency
// @Summary General health check
// @Description Returns 503 when any dependency check fails
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    int64(time.Since(h.startTime).Seconds()),
		Checks:    make(map[string]string, len(h.checks)),
	}

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			response.Status = "unhealthy"
			response.Checks[name] = err.Error()
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		response.Checks[name] = "ok"
	}

	statusCode := http.StatusOK
	if response.Status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ping handles simple ping endpoint (no checks, always returns 200)
// @Summary Ping
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /ping [get]
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"version": h.version,
	})
}
