// Package middleware provides Gin HTTP middleware for session authentication,
// CSRF protection, role checks, rate limiting, security headers, and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → CSRF → Role → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any
// crypto or DB work. Auth populates the identity; CSRF and role checks read
// from that context.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/auth"
	"github.com/practicedesk/practicedesk/internal/safego"
	"github.com/practicedesk/practicedesk/internal/telemetry"
)

const (
	// SessionCookieName is the HTTP-only cookie carrying the signed session token.
	SessionCookieName = "sessionToken"

	// IdentityKey is the gin.Context key under which the verified auth.Identity
	// is stored for handlers downstream.
	IdentityKey = "identity"
)

// SessionToucher refreshes session activity timestamps. Implemented by
// repositories.SessionRepository.
type SessionToucher interface {
	TouchActivity(ctx context.Context, userID int) error
}

// RequireAuth returns a handler that rejects requests without a valid session
// cookie. On success the verified identity is stored in the context and the
// session's activity timestamp is refreshed in the background.
//
// The error body never distinguishes a tampered token from an expired one;
// both read "Invalid or expired session" so a probing client learns nothing
// about why verification failed.
func RequireAuth(sessions SessionToucher) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			telemetry.AuthenticationsTotal.WithLabelValues("missing").Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		identity, err := auth.VerifySessionToken(token)
		if err != nil {
			outcome := "invalid"
			if err == auth.ErrTokenExpired {
				outcome = "expired"
			}
			telemetry.AuthenticationsTotal.WithLabelValues(outcome).Inc()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		telemetry.AuthenticationsTotal.WithLabelValues("success").Inc()
		c.Set(IdentityKey, *identity)

		// Activity tracking is best-effort; a failed update must not add
		// latency or errors to the request path.
		if sessions != nil {
			userID := identity.UserID
			safego.Go(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = sessions.TouchActivity(ctx, userID)
			})
		}

		c.Next()
	}
}

// OptionalAuth populates the identity when a valid session cookie is present
// and continues anonymously otherwise. Used on endpoints that personalize for
// authenticated staff but are also reachable by portal clients.
func OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			c.Next()
			return
		}

		identity, err := auth.VerifySessionToken(token)
		if err != nil {
			c.Next()
			return
		}

		c.Set(IdentityKey, *identity)
		c.Next()
	}
}

// CurrentIdentity returns the verified identity stored by RequireAuth or
// OptionalAuth, if any.
func CurrentIdentity(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}
