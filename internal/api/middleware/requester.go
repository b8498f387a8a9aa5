package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequesterHeader carries the caller's on-chain address on every
// identity-bound request.
const RequesterHeader = "X-Requester-Address"

// requesterKey is the gin context key the requester address is stored under.
const requesterKey = "requester_address"

// RequesterIdentity extracts the requester address header into the request
// context. It does not reject requests; handlers that need an identity call
// RequireRequester.
func RequesterIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr := c.GetHeader(RequesterHeader); addr != "" {
			c.Set(requesterKey, addr)
		}
		c.Next()
	}
}

// RequireRequester returns the requester address or writes a 400 and aborts.
// A nil-check style return: empty string means the request has been handled.
func RequireRequester(c *gin.Context) string {
	addr := c.GetString(requesterKey)
	if addr == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "missing " + RequesterHeader + " header",
		})
		return ""
	}
	return addr
}
