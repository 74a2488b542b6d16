// session_janitor.go implements the SessionJanitor background job, which
// periodically deletes expired rows from user_sessions. Token verification is
// stateless, so expired rows grant nothing; the purge keeps the active-session
// listing truthful and the table from growing without bound.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// SessionPurger is the subset of the session repository the janitor needs.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// SessionJanitor periodically purges expired session records.
type SessionJanitor struct {
	sessions SessionPurger
	interval time.Duration
	stopChan chan struct{}
}

// NewSessionJanitor creates a SessionJanitor. interval <= 0 defaults to one hour.
func NewSessionJanitor(sessions SessionPurger, interval time.Duration) *SessionJanitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &SessionJanitor{
		sessions: sessions,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background purge loop. It runs an initial purge
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (j *SessionJanitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	slog.Info("session janitor started", "interval", j.interval)

	j.runPurge(ctx)

	for {
		select {
		case <-ticker.C:
			j.runPurge(ctx)
		case <-j.stopChan:
			slog.Info("session janitor stopped")
			return
		case <-ctx.Done():
			slog.Info("session janitor context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (j *SessionJanitor) Stop() {
	close(j.stopChan)
}

func (j *SessionJanitor) runPurge(ctx context.Context) {
	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	purged, err := j.sessions.PurgeExpired(purgeCtx)
	if err != nil {
		slog.Warn("session purge failed", "error", err)
		return
	}
	if purged > 0 {
		slog.Info("purged expired sessions", "count", purged)
	}
}
