package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/knowledgenet/datagate/internal/api/middleware"
	"github.com/knowledgenet/datagate/internal/gateway"
	"github.com/knowledgenet/datagate/internal/models"
)

// AccessService defines the grant lifecycle operations the handler needs.
type AccessService interface {
	RequestAccess(ctx context.Context, req gateway.AccessRequest) (*models.GrantResponse, error)
	Download(ctx context.Context, accessKey, requester string) (*gateway.DownloadResult, error)
	RevokeGrant(ctx context.Context, accessKey string) error
}

// AccessHandler handles grant issuance, download, and revocation endpoints.
type AccessHandler struct {
	svc    AccessService
	logger zerolog.Logger
}

// NewAccessHandler creates a new AccessHandler.
func NewAccessHandler(svc AccessService, logger zerolog.Logger) *AccessHandler {
	return &AccessHandler{
		svc:    svc,
		logger: logger.With().Str("component", "access_handler").Logger(),
	}
}

// RegisterRoutes registers access routes on the given router group.
func (h *AccessHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/access", h.RequestAccess)
	r.DELETE("/access/:accessKey", h.RevokeGrant)
	r.GET("/download/:accessKey", h.Download)
}

// RequestAccess mints a new access grant against a payment proof.
// POST /api/v1/access
func (h *AccessHandler) RequestAccess(c *gin.Context) {
	requester := middleware.RequireRequester(c)
	if requester == "" {
		return
	}

	var req gateway.AccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Requester = requester

	resp, err := h.svc.RequestAccess(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn().Err(err).Str("dataset_id", req.DatasetID).Msg("access request rejected")
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Download streams the dataset content for a valid grant.
// GET /api/v1/download/:accessKey
func (h *AccessHandler) Download(c *gin.Context) {
	requester := middleware.RequireRequester(c)
	if requester == "" {
		return
	}

	result, err := h.svc.Download(c.Request.Context(), c.Param("accessKey"), requester)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// RevokeGrant invalidates a grant. Revoking an unknown or already-revoked
// key succeeds; the end state is the same.
// DELETE /api/v1/access/:accessKey
func (h *AccessHandler) RevokeGrant(c *gin.Context) {
	if err := h.svc.RevokeGrant(c.Request.Context(), c.Param("accessKey")); err != nil {
		h.logger.Error().Err(err).Msg("failed to revoke grant")
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
