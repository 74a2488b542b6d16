// Package auth implements the session token authenticator: creation and
// verification of self-contained, HMAC-signed, expiring identity tokens, the
// process-wide signing secret lifecycle, bcrypt password helpers, and the
// short-lived JWTs used by the public portal activation and reset endpoints.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	// sessionSecret holds the validated signing secret
	sessionSecret     string
	sessionSecretOnce sync.Once
	sessionSecretErr  error
)

// isDevMode reports whether the process runs in a development profile.
// The ephemeral-secret fallback is only permitted in these profiles.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	appEnv := os.Getenv("PD_ENV")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" ||
		appEnv == "development" ||
		ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// a time-derived value keeps dev environments limping along.
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// InitSessionSecret validates and installs the session signing secret.
// In production an empty secret is a fatal configuration defect.
// In dev mode an ephemeral secret is generated with a loud warning, which
// means all sessions are invalidated on every restart.
// Call this once at application startup, before any token is created.
func InitSessionSecret(configured string) error {
	sessionSecretOnce.Do(func() {
		if configured == "" {
			if isDevMode() {
				sessionSecret = generateRandomSecret()
				slog.Warn("PD_AUTH_SESSION_SECRET not set; using auto-generated ephemeral secret for development")
				slog.Warn("sessions will not survive restarts; set PD_AUTH_SESSION_SECRET for persistent sessions")
			} else {
				sessionSecretErr = errors.New("SECURITY ERROR: PD_AUTH_SESSION_SECRET is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		if len(configured) < 32 {
			slog.Warn("PD_AUTH_SESSION_SECRET is shorter than the recommended 32 characters")
		}

		sessionSecret = configured
	})

	return sessionSecretErr
}

// signingSecret returns the installed secret. Panics if InitSessionSecret was
// never called or failed: issuing tokens with no secret is unrecoverable.
func signingSecret() string {
	if sessionSecret == "" {
		if err := InitSessionSecret(os.Getenv("PD_AUTH_SESSION_SECRET")); err != nil {
			panic(err)
		}
	}
	return sessionSecret
}
