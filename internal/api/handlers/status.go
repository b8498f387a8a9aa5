// Package handlers provides the HTTP handlers for the Datagate server.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/knowledgenet/datagate/internal/gateway"
)

// errorStatus maps gateway errors onto HTTP status codes. Unrecognized
// errors are internal.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrPaymentInvalid):
		return http.StatusPaymentRequired
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, gateway.ErrExpired):
		return http.StatusGone
	case errors.Is(err, gateway.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a gateway error as a JSON response. Internal errors
// are masked so their detail never leaks to callers.
func writeError(c *gin.Context, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
