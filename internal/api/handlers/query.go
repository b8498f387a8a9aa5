package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/api/middleware"
	"github.com/knowledgenet/datagate/internal/models"
)

// QueryService defines the metered query and usage operations.
type QueryService interface {
	Query(ctx context.Context, accessKey, requester, queryText string) (*models.AnalysisResult, error)
	UsageStats(ctx context.Context, requester string) (*models.UsageStats, error)
}

// DatasetSearcher runs catalog searches.
type DatasetSearcher interface {
	Search(ctx context.Context, filter models.SearchFilter, requester string) (*models.SearchResult, error)
}

// QueryHandler handles dataset query, search, and usage stats endpoints.
type QueryHandler struct {
	svc      QueryService
	searcher DatasetSearcher
	logger   zerolog.Logger
}

// NewQueryHandler creates a new QueryHandler.
func NewQueryHandler(svc QueryService, searcher DatasetSearcher, logger zerolog.Logger) *QueryHandler {
	return &QueryHandler{
		svc:      svc,
		searcher: searcher,
		logger:   logger.With().Str("component", "query_handler").Logger(),
	}
}

// RegisterRoutes registers query routes on the given router group.
func (h *QueryHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/query", h.Query)
	r.GET("/datasets", h.SearchDatasets)
	r.GET("/stats", h.UsageStats)
}

type queryRequest struct {
	AccessKey string `json:"access_key"`
	Query     string `json:"query"`
}

// Query runs an analysis query against a granted dataset.
// POST /api/v1/query
func (h *QueryHandler) Query(c *gin.Context) {
	requester := middleware.RequireRequester(c)
	if requester == "" {
		return
	}

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AccessKey == "" || req.Query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "access_key and query are required"})
		return
	}

	result, err := h.svc.Query(c.Request.Context(), req.AccessKey, requester, req.Query)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SearchDatasets lists catalog datasets matching the given filters.
// GET /api/v1/datasets?terms=climate&tags=weather,ocean&format=json&min_quality=50&max_price_wei=10&verified=true&limit=20&offset=0
func (h *QueryHandler) SearchDatasets(c *gin.Context) {
	filter := models.SearchFilter{
		SearchTerms: c.Query("terms"),
		Format:      c.Query("format"),
		MaxPriceWei: c.Query("max_price_wei"),
	}

	if tags := c.Query("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	if v := c.Query("min_quality"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.MinQualityScore = n
		}
	}
	if v := c.Query("verified"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filter.Verified = &b
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	// Search is open: the requester identity is recorded when present but
	// not required.
	requester := c.GetHeader(middleware.RequesterHeader)

	result, err := h.searcher.Search(c.Request.Context(), filter, requester)
	if err != nil {
		h.logger.Error().Err(err).Msg("dataset search failed")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// UsageStats returns the calling requester's recorded activity.
// GET /api/v1/stats
func (h *QueryHandler) UsageStats(c *gin.Context) {
	requester := middleware.RequireRequester(c)
	if requester == "" {
		return
	}

	stats, err := h.svc.UsageStats(c.Request.Context(), requester)
	if err != nil {
		h.logger.Error().Err(err).Str("requester", requester).Msg("failed to compute usage stats")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
