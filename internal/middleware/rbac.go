// rbac.go implements role-based authorization middleware.
//
// Roles are carried in the signed session token payload rather than looked up
// per request. A role change therefore takes effect only when the user's
// token is reissued, at most 24 hours later; the compliance trail records the
// role that was in force when the action happened.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/audit"
)

// RequireRole rejects authenticated requests whose identity does not carry
// one of the allowed roles. Every rejection is recorded in the audit trail as
// a blocked unauthorized-access attempt before the 403 is returned.
func RequireRole(auditLog *audit.Logger, roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient permissions",
			})
			return
		}

		if _, ok := allowed[identity.Role]; ok {
			c.Next()
			return
		}

		if auditLog != nil {
			userID := identity.UserID
			_ = auditLog.LogUnauthorizedAccess(
				audit.Actor{UserID: &userID, Username: identity.Username},
				"endpoint",
				c.FullPath(),
				nil,
				audit.RequestMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()},
				map[string]interface{}{
					"method": c.Request.Method,
					"role":   identity.Role,
				},
			)
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Insufficient permissions",
		})
	}
}
