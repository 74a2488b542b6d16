package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/audit"
	"github.com/practicedesk/practicedesk/internal/auth"
	"github.com/practicedesk/practicedesk/internal/config"
	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
	"github.com/practicedesk/practicedesk/internal/middleware"
)

// PortalHandlers implements client portal account activation and password
// reset. Activation and reset links carry short-lived single-purpose JWTs;
// the public endpoints consuming them are CSRF-exempt because the browser
// has no cookies yet at that point.
type PortalHandlers struct {
	cfg      *config.Config
	users    *repositories.UserRepository
	auditLog *audit.Logger
}

// NewPortalHandlers creates a new PortalHandlers instance.
func NewPortalHandlers(cfg *config.Config, users *repositories.UserRepository, auditLog *audit.Logger) *PortalHandlers {
	return &PortalHandlers{cfg: cfg, users: users, auditLog: auditLog}
}

type inviteRequest struct {
	ClientID int    `json:"client_id" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	// Purpose selects activation (new portal account) or password reset.
	// Defaults to activation.
	Purpose string `json:"purpose"`
}

// InviteHandler mints a portal token for a client. In production the token
// is delivered by email; the response includes it so the front desk can also
// hand the link over directly.
//
// POST /api/portal/invite  (staff only)
func (h *PortalHandlers) InviteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := middleware.CurrentIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "client_id and a valid email are required"})
			return
		}

		var purpose string
		switch req.Purpose {
		case "", "activate":
			purpose = auth.PortalPurposeActivate
		case "reset_password":
			purpose = auth.PortalPurposeResetPassword
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "purpose must be activate or reset_password"})
			return
		}

		token, err := auth.MintPortalToken(purpose, req.ClientID, req.Email, h.cfg.Auth.PortalTokenTTL)
		if err != nil {
			slog.Error("portal token mint failed", "error", err, "client_id", req.ClientID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create portal token"})
			return
		}

		userID := identity.UserID
		clientID := req.ClientID
		_ = h.auditLog.LogAction(&models.AuditLogEntry{
			UserID:       &userID,
			Username:     identity.Username,
			Action:       models.ActionPortalInvited,
			Result:       models.ResultSuccess,
			ResourceType: models.ResourceClient,
			ResourceID:   strconv.Itoa(req.ClientID),
			ClientID:     &clientID,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			RiskLevel:    models.RiskMedium,
			Details:      map[string]interface{}{"purpose": purpose},
		})

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"expires_in": int(h.cfg.Auth.PortalTokenTTL.Seconds()),
		})
	}
}

type portalCredentialRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=12"`
}

// ActivateHandler consumes an activation token and sets the portal account's
// first password.
//
// POST /api/portal/activate  (public, CSRF-exempt)
func (h *PortalHandlers) ActivateHandler() gin.HandlerFunc {
	return h.consumeToken(auth.PortalPurposeActivate, models.ActionPortalActivated, true)
}

// ResetPasswordHandler consumes a reset token and replaces the portal
// account's password.
//
// POST /api/portal/reset-password  (public, CSRF-exempt)
func (h *PortalHandlers) ResetPasswordHandler() gin.HandlerFunc {
	return h.consumeToken(auth.PortalPurposeResetPassword, models.ActionPasswordReset, false)
}

func (h *PortalHandlers) consumeToken(purpose, auditAction string, activate bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req portalCredentialRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token and a password of at least 12 characters are required"})
			return
		}

		claims, err := auth.ParsePortalToken(req.Token, purpose)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			slog.Error("password hash failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to set password"})
			return
		}

		if err := h.users.UpdatePasswordByEmail(c.Request.Context(), claims.Email, hash, activate); err != nil {
			slog.Error("portal password update failed", "error", err, "client_id", claims.ClientID)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		clientID := claims.ClientID
		_ = h.auditLog.LogAction(&models.AuditLogEntry{
			Username:     claims.Email,
			Action:       auditAction,
			Result:       models.ResultSuccess,
			ResourceType: models.ResourceClient,
			ResourceID:   strconv.Itoa(claims.ClientID),
			ClientID:     &clientID,
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			RiskLevel:    models.RiskMedium,
		})

		c.JSON(http.StatusOK, gin.H{"message": "Password set"})
	}
}
