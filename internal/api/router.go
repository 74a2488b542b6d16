// Package api wires together all HTTP routes of the practice backend's
// security core.
//
// Route grouping philosophy:
//   - /api/auth/* and /api/portal/activate|reset-password are reachable
//     without a session: they are the endpoints that issue or bootstrap
//     credentials, and they sit behind the login rate limiter.
//   - Everything else under /api/ requires a valid session cookie; the
//     compliance report additionally requires the admin role.
//
// Middleware ordering is deliberate: security headers first so they cover
// error responses, rate limiting before auth so brute force is rejected
// before any bcrypt work, CSRF after auth so rejections of authenticated
// state-changing requests are attributable.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/practicedesk/practicedesk/internal/api/handlers"
	"github.com/practicedesk/practicedesk/internal/audit"
	"github.com/practicedesk/practicedesk/internal/auth"
	"github.com/practicedesk/practicedesk/internal/config"
	"github.com/practicedesk/practicedesk/internal/crypto"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
	"github.com/practicedesk/practicedesk/internal/jobs"
	"github.com/practicedesk/practicedesk/internal/middleware"
	"github.com/practicedesk/practicedesk/internal/safego"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// BackgroundServices holds references to background goroutines and resources
// that must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	AuditLogger *audit.Logger

	rateLimiter *middleware.RateLimiter
	stopDrain   func()
	janitor     *jobs.SessionJanitor
	redisClient *redis.Client
}

// Shutdown stops all background goroutines and flushes in-flight audit
// writes. Call after the HTTP server has drained so that handlers are no
// longer enqueueing entries.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.stopDrain != nil {
		bg.stopDrain()
	}
	if bg.janitor != nil {
		bg.janitor.Stop()
	}
	if bg.rateLimiter != nil {
		bg.rateLimiter.Stop()
	}
	if bg.AuditLogger != nil {
		bg.AuditLogger.Flush()
	}
	if bg.redisClient != nil {
		_ = bg.redisClient.Close()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, db *sqlx.DB) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()

	// Repositories
	auditRepo := repositories.NewAuditRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	userRepo := repositories.NewUserRepository(db)

	// Durable spool for audit writes that fail while the database is down.
	var spool *audit.Spool
	if cfg.Audit.SpoolPath != "" {
		var spoolCipher *crypto.SpoolCipher
		if cfg.Audit.SpoolPassphrase != "" {
			var err error
			spoolCipher, err = crypto.DeriveSpoolCipher(cfg.Audit.SpoolPassphrase, cfg.Audit.SpoolPath+".salt")
			if err != nil {
				return nil, nil, fmt.Errorf("failed to derive spool cipher: %w", err)
			}
		}
		var err error
		spool, err = audit.NewSpool(cfg.Audit.SpoolPath, cfg.Audit.SpoolMaxSizeMB, spoolCipher)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit spool: %w", err)
		}
	}

	auditLog := audit.NewLogger(auditRepo, attemptRepo, sessionRepo, spool, cfg.Audit.WriteTimeout)

	bg := &BackgroundServices{AuditLogger: auditLog}

	if spool != nil {
		bg.stopDrain = auditLog.StartSpoolDrain(cfg.Audit.DrainInterval)
	}

	// Expired session rows are purged hourly. Verification is stateless, so
	// this is hygiene for the admin session list, not a security control.
	bg.janitor = jobs.NewSessionJanitor(sessionRepo, time.Hour)
	safego.Go(func() { bg.janitor.Start(context.Background()) })

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		bg.redisClient = rdb
	}
	loginLimiter := middleware.NewRateLimiter(cfg.Security.RateLimiting, rdb)
	bg.rateLimiter = loginLimiter

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	// System endpoints
	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, spool))
	router.GET("/version", versionHandler())

	// Handlers
	authHandlers := handlers.NewAuthHandlers(cfg, userRepo, attemptRepo, auditLog)
	auditHandlers := handlers.NewAuditHandlers(auditLog)
	portalHandlers := handlers.NewPortalHandlers(cfg, userRepo, auditLog)

	csrf := middleware.CSRFProtection(cfg.Security.CSRFExemptPaths)

	authGroup := router.Group("/api/auth")
	authGroup.Use(loginLimiter.Middleware())
	{
		authGroup.POST("/login", csrf, authHandlers.LoginHandler())
		// Logout works with or without a live session so an expired client
		// can still clear its cookies.
		authGroup.POST("/logout", middleware.OptionalAuth(), csrf, authHandlers.LogoutHandler())
		authGroup.GET("/me", middleware.RequireAuth(sessionRepo), authHandlers.MeHandler())
	}

	auditGroup := router.Group("/api/audit")
	auditGroup.Use(middleware.RequireAuth(sessionRepo), csrf)
	{
		auditGroup.GET("/report", middleware.RequireRole(auditLog, auth.RoleAdmin), auditHandlers.ReportHandler())
	}

	portalGroup := router.Group("/api/portal")
	{
		portalGroup.POST("/invite",
			middleware.RequireAuth(sessionRepo), csrf,
			middleware.RequireRole(auditLog, auth.RoleAdmin, auth.RoleTherapist),
			portalHandlers.InviteHandler())

		// Public, rate limited, CSRF-exempt: the caller holds no cookies yet.
		portalGroup.POST("/activate", loginLimiter.Middleware(), csrf, portalHandlers.ActivateHandler())
		portalGroup.POST("/reset-password", loginLimiter.Middleware(), csrf, portalHandlers.ResetPasswordHandler())
	}

	return router, bg, nil
}

// healthCheckHandler returns the liveness status of the service.
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe it also reports audit spool depth: a deep spool means audit
// writes are failing and the trail is running on the fallback.
func readinessHandler(db *sqlx.DB, spool *audit.Spool) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if spool != nil {
			checks["audit_spool_depth"] = spool.Depth()
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging through slog.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS for the staff frontend. Credentials are always
// allowed because authentication is cookie-based, which is also why the
// allowed origin list must never contain "*" in production.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed && origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With, "+middleware.CSRFHeaderName)
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
