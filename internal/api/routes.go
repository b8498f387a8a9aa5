// Package api provides the HTTP API for the Datagate server.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/api/handlers"
	"github.com/knowledgenet/datagate/internal/api/middleware"
	"github.com/knowledgenet/datagate/internal/config"
	"github.com/knowledgenet/datagate/internal/gateway"
	"github.com/knowledgenet/datagate/internal/metrics"
	"github.com/knowledgenet/datagate/internal/query"
)

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a new Router with the given dependencies.
func NewRouter(
	cfg config.ServerConfig,
	gw *gateway.Gateway,
	searcher *query.Searcher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) (*Router, error) {
	if cfg.Environment == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	// Global middleware
	r.Engine.Use(gin.Recovery())
	r.Engine.Use(middleware.RequestLogger(logger))
	r.Engine.Use(middleware.RequesterIdentity())

	// Rate limiting
	if cfg.RateLimit != "" {
		rateLimiter, err := middleware.NewRateLimiter(cfg.RateLimit)
		if err != nil {
			return nil, err
		}
		r.Engine.Use(rateLimiter)
	}

	// Health check endpoint (no identity required)
	healthHandler := handlers.NewHealthHandler(logger)
	healthHandler.RegisterPublicRoutes(r.Engine)

	// Prometheus metrics endpoint (no identity required)
	r.Engine.GET("/metrics", gin.WrapH(m.Handler()))

	// API v1 routes
	apiV1 := r.Engine.Group("/api/v1")

	accessHandler := handlers.NewAccessHandler(gw, logger)
	accessHandler.RegisterRoutes(apiV1)

	queryHandler := handlers.NewQueryHandler(gw, searcher, logger)
	queryHandler.RegisterRoutes(apiV1)

	provenanceHandler := handlers.NewProvenanceHandler(gw, logger)
	provenanceHandler.RegisterRoutes(apiV1)

	r.logger.Info().Msg("API router initialized")
	return r, nil
}
