package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies a bearer token and injects the operator
// identity into the request context.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Request = c.Request.WithContext(
			WithIdentity(c.Request.Context(), claims.OperatorID, claims.Role))
		c.Set("operator_id", claims.OperatorID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
