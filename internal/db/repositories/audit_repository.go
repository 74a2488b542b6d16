// Package repositories implements the persistence layer over PostgreSQL.
// Repositories hold a *sqlx.DB, take context on every call, and return
// (nil, nil) for lookups that find no row.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/practicedesk/practicedesk/internal/db/models"
)

// AuditRepository handles audit trail database operations. The audit_logs
// table is append-only: this repository exposes no update or delete.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for the compliance report query. Nil fields
// are not applied; every non-nil filter ANDs into the WHERE clause.
type AuditFilters struct {
	StartDate     *time.Time
	EndDate       *time.Time
	UserID        *int
	ClientID      *int
	HIPAARelevant *bool
	RiskLevel     *models.RiskLevel
}

const auditColumns = `id, user_id, username, action, result, resource_type, resource_id,
	client_id, ip_address, user_agent, hipaa_relevant, risk_level, details, justification, occurred_at`

// Insert appends one entry to the audit trail. The caller (the audit logger)
// owns ID and timestamp assignment so that spooled entries keep a stable
// identity across replay attempts.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	var detailsJSON []byte
	var err error
	if entry.Details != nil {
		detailsJSON, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Username,
		entry.Action,
		entry.Result,
		entry.ResourceType,
		entry.ResourceID,
		entry.ClientID,
		entry.IPAddress,
		entry.UserAgent,
		entry.HIPAARelevant,
		entry.RiskLevel,
		detailsJSON,
		entry.Justification,
		entry.OccurredAt,
	)

	return err
}

// List retrieves audit entries matching the filters, newest first, with the
// total matching count for pagination.
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.StartDate != nil {
		addFilter(` AND occurred_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND occurred_at <= $%d`, *filters.EndDate)
	}
	if filters.UserID != nil {
		addFilter(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.ClientID != nil {
		addFilter(` AND client_id = $%d`, *filters.ClientID)
	}
	if filters.HIPAARelevant != nil {
		addFilter(` AND hipaa_relevant = $%d`, *filters.HIPAARelevant)
	}
	if filters.RiskLevel != nil {
		addFilter(` AND risk_level = $%d`, string(*filters.RiskLevel))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.AuditLogEntry, 0)
	for rows.Next() {
		entry, err := scanAuditRow(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, total, rows.Err()
}

// Get retrieves a single audit entry by ID; (nil, nil) when not found.
func (r *AuditRepository) Get(ctx context.Context, id string) (*models.AuditLogEntry, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE id = $1`, id)
	entry, err := scanAuditRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRow(s scanner) (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{}
	var detailsJSON []byte

	err := s.Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Username,
		&entry.Action,
		&entry.Result,
		&entry.ResourceType,
		&entry.ResourceID,
		&entry.ClientID,
		&entry.IPAddress,
		&entry.UserAgent,
		&entry.HIPAARelevant,
		&entry.RiskLevel,
		&detailsJSON,
		&entry.Justification,
		&entry.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	if detailsJSON != nil {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("unmarshal audit details: %w", err)
		}
	}

	return entry, nil
}
