// csrf.go implements double-submit cookie CSRF protection for the staff app.
// The login handler issues a csrfToken cookie readable by the frontend; every
// state-changing request must echo it back in the X-CSRF-Token header. A
// cross-site attacker can force the browser to send the cookie but cannot
// read it, so it cannot supply a matching header.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/telemetry"
)

const (
	// CSRFCookieName is the cookie carrying the CSRF token. Unlike the session
	// cookie it is NOT HTTP-only: the frontend must read it to echo it back.
	CSRFCookieName = "csrfToken"

	// CSRFHeaderName is the request header the frontend echoes the token in.
	CSRFHeaderName = "X-CSRF-Token"
)

// CSRFProtection enforces the double-submit check on state-changing methods.
// Safe methods (GET, HEAD, OPTIONS) pass through, as do the listed exempt
// paths. Login must be exempt because the CSRF cookie does not exist until
// login succeeds.
func CSRFProtection(exemptPaths []string) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(exemptPaths))
	for _, p := range exemptPaths {
		exempt[p] = struct{}{}
	}

	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		cookie, err := c.Cookie(CSRFCookieName)
		header := c.GetHeader(CSRFHeaderName)

		if err != nil || cookie == "" || header == "" ||
			subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			telemetry.CSRFRejectionsTotal.Inc()
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Invalid CSRF token",
			})
			return
		}

		c.Next()
	}
}
