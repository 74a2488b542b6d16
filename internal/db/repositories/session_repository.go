// session_repository.go persists active-session bookkeeping records.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/practicedesk/practicedesk/internal/db/models"
)

// SessionRepository handles user-session database operations
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert creates a session record and returns it with server-assigned fields
// populated. Unlike audit writes this is allowed to fail loudly: an
// unrecorded session is an actionable failure for the login that requested it.
func (r *SessionRepository) Insert(ctx context.Context, session *models.UserSession) (*models.UserSession, error) {
	now := time.Now().UTC()
	session.ID = uuid.New().String()
	session.CreatedAt = now
	session.LastActivity = now

	query := `
		INSERT INTO user_sessions (id, user_id, ip_address, user_agent, created_at, last_activity, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.IPAddress,
		session.UserAgent,
		session.CreatedAt,
		session.LastActivity,
		session.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// TouchActivity refreshes last_activity for all live sessions of a user.
// This is the only permitted mutation of a session row.
func (r *SessionRepository) TouchActivity(ctx context.Context, userID int) error {
	query := `
		UPDATE user_sessions SET last_activity = $1
		WHERE user_id = $2 AND expires_at > $1
	`
	_, err := r.db.ExecContext(ctx, query, time.Now().UTC(), userID)
	return err
}

// PurgeExpired deletes session records past their expiry and returns how many
// were removed. Run periodically by the background janitor.
func (r *SessionRepository) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_sessions WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
