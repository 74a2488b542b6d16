// Package handlers implements the HTTP surface of the security core: staff
// login/logout/me, the compliance report endpoint, and the public portal
// activation and password-reset endpoints.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/audit"
	"github.com/practicedesk/practicedesk/internal/auth"
	"github.com/practicedesk/practicedesk/internal/config"
	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
	"github.com/practicedesk/practicedesk/internal/middleware"
)

// AuthHandlers handles staff authentication endpoints.
type AuthHandlers struct {
	cfg      *config.Config
	users    *repositories.UserRepository
	attempts *repositories.LoginAttemptRepository
	auditLog *audit.Logger
}

// NewAuthHandlers creates a new AuthHandlers instance.
func NewAuthHandlers(cfg *config.Config, users *repositories.UserRepository, attempts *repositories.LoginAttemptRepository, auditLog *audit.Logger) *AuthHandlers {
	return &AuthHandlers{cfg: cfg, users: users, attempts: attempts, auditLog: auditLog}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// requestMeta extracts the attribution recorded with audit entries.
func requestMeta(c *gin.Context) audit.RequestMeta {
	return audit.RequestMeta{IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// LoginHandler authenticates a staff user and issues the session and CSRF
// cookies.
//
// POST /api/auth/login
//
// Unknown usernames, wrong passwords, and deactivated accounts all produce
// the same 401 body so the endpoint cannot be used to enumerate accounts.
func (h *AuthHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Username and password are required",
			})
			return
		}

		meta := requestMeta(c)

		// Lockout check before any bcrypt work. Counts failures for the
		// username OR the source IP so a distributed guess against one
		// account and a single host spraying many accounts both trip it.
		if h.cfg.Auth.LockoutThreshold > 0 {
			since := time.Now().Add(-h.cfg.Auth.LockoutWindow)
			failures, err := h.attempts.CountRecentFailures(c.Request.Context(), req.Username, meta.IPAddress, since)
			if err != nil {
				// Availability over lockout: a broken count query must not
				// take down logins.
				slog.Error("recent-failure count failed during login", "error", err)
			} else if failures >= h.cfg.Auth.LockoutThreshold {
				h.auditLog.RecordLoginAttempt(req.Username, false, meta)
				_ = h.auditLog.LogAuthEvent(
					audit.Actor{Username: req.Username},
					models.ActionLoginFailed,
					models.ResultBlocked,
					meta,
					map[string]interface{}{"reason": "lockout", "recent_failures": failures},
				)
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error": "Too many failed login attempts, try again later",
				})
				return
			}
		}

		user, err := h.users.GetByUsername(c.Request.Context(), req.Username)
		if err != nil {
			slog.Error("user lookup failed during login", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		if user == nil || !user.Active || !auth.CheckPassword(req.Password, user.PasswordHash) {
			h.auditLog.RecordLoginAttempt(req.Username, false, meta)
			_ = h.auditLog.LogAuthEvent(
				audit.Actor{Username: req.Username},
				models.ActionLoginFailed,
				models.ResultFailure,
				meta,
				nil,
			)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid username or password",
			})
			return
		}

		token, err := auth.CreateSessionToken(auth.Identity{
			UserID:   user.ID,
			Username: user.Username,
			Role:     user.Role,
		}, h.cfg.Auth.SessionTTL)
		if err != nil {
			slog.Error("session token creation failed", "error", err, "user_id", user.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		h.auditLog.RecordLoginAttempt(user.Username, true, meta)

		// The session row is visibility-only; token verification never
		// consults it, so a failed insert degrades the admin session list
		// but must not block the login.
		expiresAt := auth.SessionExpiry(h.cfg.Auth.SessionTTL)
		if _, err := h.auditLog.CreateSession(c.Request.Context(), user.ID, meta, expiresAt); err != nil {
			slog.Error("session record creation failed", "error", err, "user_id", user.ID)
		}

		_ = h.auditLog.LogAuthEvent(
			audit.Actor{UserID: &user.ID, Username: user.Username},
			models.ActionLoginSuccess,
			models.ResultSuccess,
			meta,
			nil,
		)

		csrfToken, err := auth.GenerateCSRFToken()
		if err != nil {
			slog.Error("csrf token generation failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}

		maxAge := int(h.cfg.Auth.SessionTTL.Seconds())
		h.setSessionCookies(c, token, csrfToken, maxAge)

		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":       user.ID,
				"username": user.Username,
				"role":     user.Role,
			},
		})
	}
}

// LogoutHandler clears both cookies and audits the logout. It works with or
// without a valid session so a user with an expired token can still clear
// state.
//
// POST /api/auth/logout
func (h *AuthHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identity, ok := middleware.CurrentIdentity(c); ok {
			userID := identity.UserID
			_ = h.auditLog.LogAuthEvent(
				audit.Actor{UserID: &userID, Username: identity.Username},
				models.ActionLogout,
				models.ResultSuccess,
				requestMeta(c),
				nil,
			)
		}

		h.setSessionCookies(c, "", "", -1)
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}

// MeHandler returns the authenticated identity.
//
// GET /api/auth/me
func (h *AuthHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := middleware.CurrentIdentity(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user": gin.H{
				"id":       identity.UserID,
				"username": identity.Username,
				"role":     identity.Role,
			},
		})
	}
}

// setSessionCookies writes (or clears, with maxAge < 0) the session and CSRF
// cookies. The session cookie is HTTP-only so scripts can never read the
// signed token; the CSRF cookie must be script-readable for the double-submit
// scheme to work.
func (h *AuthHandlers) setSessionCookies(c *gin.Context, sessionToken, csrfToken string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(middleware.SessionCookieName, sessionToken, maxAge, "/",
		h.cfg.Auth.CookieDomain, h.cfg.Auth.SecureCookies, true)
	c.SetCookie(middleware.CSRFCookieName, csrfToken, maxAge, "/",
		h.cfg.Auth.CookieDomain, h.cfg.Auth.SecureCookies, false)
}
