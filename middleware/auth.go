package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"taxiflow/services"
)

// ClaimsKey is the gin context key holding *services.Claims.
const ClaimsKey = "claims"

// RequireAuth rejects requests without a valid "Bearer" token.
func RequireAuth(auth *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}
