// ratelimit.go provides per-IP rate limiting for the authentication
// endpoints, the first line of defense against credential stuffing. When
// Redis is configured the limit is enforced cluster-wide with redis_rate's
// GCRA implementation; otherwise each process falls back to local token
// buckets.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"log/slog"

	"github.com/practicedesk/practicedesk/internal/config"
)

// RateLimiter throttles requests keyed by client IP.
type RateLimiter struct {
	cfg config.RateLimitingConfig

	redis *redis_rate.Limiter

	mu      sync.Mutex
	local   map[string]*localEntry
	stopCh  chan struct{}
	stopped sync.Once
}

type localEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from config. rdb may be nil, in which case
// limits are enforced per process only.
func NewRateLimiter(cfg config.RateLimitingConfig, rdb *redis.Client) *RateLimiter {
	rl := &RateLimiter{
		cfg:    cfg,
		local:  make(map[string]*localEntry),
		stopCh: make(chan struct{}),
	}
	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb)
	}
	go rl.cleanup()
	return rl
}

// cleanup drops local buckets for IPs not seen recently.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.local {
				if now.Sub(entry.lastSeen) > 10*time.Minute {
					delete(rl.local, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop halts the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() { close(rl.stopCh) })
}

// Allow reports whether a request from key should proceed.
func (rl *RateLimiter) Allow(c *gin.Context, key string) bool {
	if rl.redis != nil {
		res, err := rl.redis.Allow(c.Request.Context(), "login:"+key,
			redis_rate.Limit{
				Rate:   rl.cfg.RequestsPerMinute,
				Burst:  rl.cfg.Burst,
				Period: time.Minute,
			})
		if err == nil {
			return res.Allowed > 0
		}
		// Redis being down must not lock out every login; fall back to
		// the local buckets.
		slog.Warn("redis rate limit check failed, using local limiter", "error", err)
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.local[key]
	if !ok {
		entry = &localEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.cfg.RequestsPerMinute)/60.0), rl.cfg.Burst),
		}
		rl.local[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// Middleware returns the gin handler enforcing the limit per client IP. When
// rate limiting is disabled in config it is a no-op.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.cfg.Enabled {
			c.Next()
			return
		}

		if !rl.Allow(c, c.ClientIP()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			return
		}

		c.Next()
	}
}
