package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/models"
)

// ProvenanceService defines the provenance and integrity operations.
type ProvenanceService interface {
	GenerateProvenanceChain(ctx context.Context, datasetID string) (*models.ProvenanceChain, error)
	ValidateIntegrity(ctx context.Context, datasetID, expectedHash string) (*models.IntegrityReport, error)
}

// ProvenanceHandler handles provenance chain and integrity endpoints.
type ProvenanceHandler struct {
	svc    ProvenanceService
	logger zerolog.Logger
}

// NewProvenanceHandler creates a new ProvenanceHandler.
func NewProvenanceHandler(svc ProvenanceService, logger zerolog.Logger) *ProvenanceHandler {
	return &ProvenanceHandler{
		svc:    svc,
		logger: logger.With().Str("component", "provenance_handler").Logger(),
	}
}

// RegisterRoutes registers provenance routes on the given router group.
func (h *ProvenanceHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/provenance/:datasetId", h.GetChain)
	r.POST("/validate", h.ValidateIntegrity)
}

// GetChain returns the ordered provenance chain for a dataset. A dataset
// with no recorded history yields an empty, unverified chain.
// GET /api/v1/provenance/:datasetId
func (h *ProvenanceHandler) GetChain(c *gin.Context) {
	chain, err := h.svc.GenerateProvenanceChain(c.Request.Context(), c.Param("datasetId"))
	if err != nil {
		h.logger.Error().Err(err).Str("dataset_id", c.Param("datasetId")).Msg("failed to build provenance chain")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, chain)
}

type validateRequest struct {
	DatasetID    string `json:"dataset_id"`
	ExpectedHash string `json:"expected_hash"`
}

// ValidateIntegrity recomputes a dataset's content hash and compares it to
// the expected value.
// POST /api/v1/validate
func (h *ProvenanceHandler) ValidateIntegrity(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.DatasetID == "" || req.ExpectedHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dataset_id and expected_hash are required"})
		return
	}

	report, err := h.svc.ValidateIntegrity(c.Request.Context(), req.DatasetID, req.ExpectedHash)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}
