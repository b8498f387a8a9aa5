package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HealthHandler handles liveness and readiness endpoints.
type HealthHandler struct {
	startedAt time.Time
	logger    zerolog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		startedAt: time.Now(),
		logger:    logger.With().Str("component", "health_handler").Logger(),
	}
}

// RegisterPublicRoutes registers health routes directly on the engine.
func (h *HealthHandler) RegisterPublicRoutes(r *gin.Engine) {
	r.GET("/healthz", h.Health)
}

// Health reports process liveness.
// GET /healthz
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
	})
}
