package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/novadesk/novadesk-api/internal/middleware"
	"github.com/novadesk/novadesk-api/internal/models"
)

// claimsFromContext returns the JWT claims attached by the auth middleware,
// or nil when the route ran without it.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// tokenFromContext returns the raw bearer token for the current request.
// Needed by logout flows that blacklist the presented access token.
func tokenFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get(middleware.ContextTokenKey)
	if !exists {
		return "", false
	}
	token, ok := value.(string)
	return token, ok && token != ""
}
