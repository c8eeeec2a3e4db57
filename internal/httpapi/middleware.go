package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"publishengine/internal/controlplane"
	"publishengine/internal/logging"
)

const (
	contextKeyUserID      = "publishengine.user_id"
	contextKeyPermissions = "publishengine.permissions"
)

// authMiddleware enforces the control surface's key-hash authentication
// (spec.md §6: "AuthenticateKey(plaintext) -> user + permissions") on every
// /api/v1 route. The plaintext travels in X-Api-Key, never a query string.
func authMiddleware(svc *controlplane.Service, logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Api-Key")
		if key == "" {
			writeError(c, http.StatusUnauthorized, "missing X-Api-Key header", nil)
			c.Abort()
			return
		}
		user, permissions, err := svc.AuthenticateKey(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rejected api key: %v", err)
			writeError(c, http.StatusUnauthorized, "invalid api key", err)
			c.Abort()
			return
		}
		c.Set(contextKeyUserID, user.ID)
		c.Set(contextKeyPermissions, permissions)
		c.Next()
	}
}
