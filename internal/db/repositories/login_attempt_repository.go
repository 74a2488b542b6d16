// login_attempt_repository.go persists per-attempt login records used for
// brute-force monitoring.
package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/practicedesk/practicedesk/internal/db/models"
)

// LoginAttemptRepository handles login attempt database operations
type LoginAttemptRepository struct {
	db *sqlx.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *sqlx.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

// Insert records one login attempt. AttemptedAt is server-assigned when zero.
func (r *LoginAttemptRepository) Insert(ctx context.Context, attempt *models.LoginAttempt) error {
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO login_attempts (username, success, ip_address, user_agent, attempted_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.Username,
		attempt.Success,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.AttemptedAt,
	)
	return err
}

// CountRecentFailures returns the number of failed attempts for the username
// or source IP since the cutoff. Used by the brute-force monitor.
func (r *LoginAttemptRepository) CountRecentFailures(ctx context.Context, username, ipAddress string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE success = FALSE
		  AND (username = $1 OR ip_address = $2)
		  AND attempted_at >= $3
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, username, ipAddress, since).Scan(&count)
	return count, err
}
