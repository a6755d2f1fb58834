package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/campus-alert-relay/internal/models"
)

// requireAdmin accepts either the configured X-API-Key or a bearer token
// issued to an admin account.
func (h *Handler) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader("X-API-Key"); key != "" && h.opts.AdminAPIKey != "" &&
			subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.AdminAPIKey)) == 1 {
			c.Set("auth_subject", "api-key")
			c.Next()
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			claims, err := h.users.Verify(parts[1])
			if err == nil && claims.Role == models.RoleAdmin {
				c.Set("auth_subject", claims.Subject)
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Unauthorized"})
	}
}
