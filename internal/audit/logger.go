// Package audit records the append-only compliance trail of the practice.
// Audit entries are intentionally separate from application logs because they
// have different consumers and retention requirements: application logs are
// ephemeral debug output for on-call engineers, while the audit trail is an
// immutable record consumed by compliance officers and subject to HIPAA
// retention policies measured in years.
//
// Persistence is fire-and-forget: recording an audit entry never fails the
// clinical operation that triggered it. Entries are validated synchronously,
// then written in the background; writes that fail land in a durable local
// spool and are replayed once the database recovers.
package audit

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
	"github.com/practicedesk/practicedesk/internal/safego"
	"github.com/practicedesk/practicedesk/internal/telemetry"
)

// timeNow is swapped in tests to pin timestamps.
var timeNow = time.Now

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newEntryID returns a lexicographically time-ordered identifier for an audit
// entry. The logger, not the repository, assigns IDs so that spooled entries
// keep a stable identity across replay attempts.
func newEntryID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(timeNow()), entropy).String()
}

// Store persists and queries audit entries.
type Store interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	List(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error)
}

// LoginAttemptStore persists login attempt records.
type LoginAttemptStore interface {
	Insert(ctx context.Context, attempt *models.LoginAttempt) error
}

// SessionStore persists session visibility records.
type SessionStore interface {
	Insert(ctx context.Context, session *models.UserSession) (*models.UserSession, error)
}

// Actor identifies who performed an audited action. UserID is nil when the
// actor could not be authenticated (failed logins, anonymous probes).
type Actor struct {
	UserID   *int
	Username string
}

// RequestMeta carries the request attribution recorded with every entry.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

const (
	defaultWriteTimeout = 5 * time.Second

	defaultReportLimit = 50
	maxReportLimit     = 500
)

// Logger is the single entry point for recording compliance events. All
// handlers and services log through it; nothing writes to the audit tables
// directly.
type Logger struct {
	store        Store
	attempts     LoginAttemptStore
	sessions     SessionStore
	spool        *Spool
	writeTimeout time.Duration
	wg           sync.WaitGroup
}

// NewLogger creates an audit logger backed by store. spool may be nil, in
// which case entries that fail to persist are dropped after an operational
// log line.
func NewLogger(store Store, attempts LoginAttemptStore, sessions SessionStore, spool *Spool, writeTimeout time.Duration) *Logger {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Logger{
		store:        store,
		attempts:     attempts,
		sessions:     sessions,
		spool:        spool,
		writeTimeout: writeTimeout,
	}
}

// LogAction validates and records one audit entry. Validation failures are
// returned synchronously; persistence happens in the background and its
// outcome never reaches the caller. The entry's ID and timestamp are assigned
// here if unset.
func (l *Logger) LogAction(entry *models.AuditLogEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}

	// PHI resources are always HIPAA-relevant regardless of what the
	// caller set.
	if models.IsPHIResource(entry.ResourceType) {
		entry.HIPAARelevant = true
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = timeNow().UTC()
	}

	l.enqueue(entry)
	return nil
}

func validateEntry(entry *models.AuditLogEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	if entry.Username == "" {
		return fmt.Errorf("audit entry requires a username")
	}
	if entry.Action == "" {
		return fmt.Errorf("audit entry requires an action")
	}
	if entry.ResourceType == "" {
		return fmt.Errorf("audit entry requires a resource type")
	}
	if !models.ValidResult(entry.Result) {
		return fmt.Errorf("invalid audit result %q", entry.Result)
	}
	if !models.ValidRiskLevel(entry.RiskLevel) {
		return fmt.Errorf("invalid risk level %q", entry.RiskLevel)
	}
	return nil
}

// enqueue hands the entry to a background writer. The write uses a detached
// context so it completes even if the originating request was aborted.
func (l *Logger) enqueue(entry *models.AuditLogEntry) {
	l.wg.Add(1)
	safego.Go(func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()

		err := l.store.Insert(ctx, entry)
		if err == nil {
			telemetry.AuditEntriesTotal.WithLabelValues("written").Inc()
			return
		}

		slog.Error("audit write failed",
			"error", err,
			"entry_id", entry.ID,
			"action", entry.Action,
			"resource_type", entry.ResourceType)

		if l.spool == nil {
			telemetry.AuditEntriesTotal.WithLabelValues("dropped").Inc()
			return
		}
		if spoolErr := l.spool.Append(entry); spoolErr != nil {
			slog.Error("audit spool write failed, entry dropped",
				"error", spoolErr,
				"entry_id", entry.ID)
			telemetry.AuditEntriesTotal.WithLabelValues("dropped").Inc()
			return
		}
		telemetry.AuditEntriesTotal.WithLabelValues("spooled").Inc()
	})
}

// Flush blocks until all in-flight background writes have completed. Called
// on shutdown and by tests.
func (l *Logger) Flush() {
	l.wg.Wait()
}

// LogClientAccess records access to a client (patient) record. Client records
// are PHI, so entries are always HIPAA-relevant at medium risk.
func (l *Logger) LogClientAccess(actor Actor, action string, clientID int, meta RequestMeta, details map[string]interface{}) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if clientID <= 0 {
		return fmt.Errorf("client access audit requires a client id")
	}
	id := clientID
	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        action,
		Result:        models.ResultSuccess,
		ResourceType:  models.ResourceClient,
		ResourceID:    strconv.Itoa(clientID),
		ClientID:      &id,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: true,
		RiskLevel:     models.RiskMedium,
		Details:       details,
	})
}

// LogSessionAccess records access to a therapy session note. Session notes
// are PHI, so entries are always HIPAA-relevant at medium risk.
func (l *Logger) LogSessionAccess(actor Actor, action, sessionID string, clientID *int, meta RequestMeta, details map[string]interface{}) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("session access audit requires a session id")
	}
	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        action,
		Result:        models.ResultSuccess,
		ResourceType:  models.ResourceSession,
		ResourceID:    sessionID,
		ClientID:      clientID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: true,
		RiskLevel:     models.RiskMedium,
		Details:       details,
	})
}

// LogDocumentAccess records access to a stored clinical document. Documents
// carry the richest PHI, so entries are always HIPAA-relevant at high risk.
func (l *Logger) LogDocumentAccess(actor Actor, action, documentID string, clientID *int, meta RequestMeta, details map[string]interface{}) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if documentID == "" {
		return fmt.Errorf("document access audit requires a document id")
	}
	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        action,
		Result:        models.ResultSuccess,
		ResourceType:  models.ResourceDocument,
		ResourceID:    documentID,
		ClientID:      clientID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: true,
		RiskLevel:     models.RiskHigh,
		Details:       details,
	})
}

// LogAuthEvent records an authentication lifecycle event (login, logout,
// password reset). The actor's user id may be nil for failed logins. Risk is
// low for successes and high for anything else.
func (l *Logger) LogAuthEvent(actor Actor, action string, result models.Result, meta RequestMeta, details map[string]interface{}) error {
	if actor.Username == "" {
		return fmt.Errorf("auth event audit requires a username")
	}
	risk := models.RiskLow
	if result != models.ResultSuccess {
		risk = models.RiskHigh
	}
	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        action,
		Result:        result,
		ResourceType:  models.ResourceAuthentication,
		ResourceID:    actor.Username,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: false,
		RiskLevel:     risk,
		Details:       details,
	})
}

// LogUnauthorizedAccess records a blocked attempt to reach a resource the
// actor was not permitted to access. These are always critical risk, flagged
// HIPAA-relevant, and stamped for compliance review.
func (l *Logger) LogUnauthorizedAccess(actor Actor, resourceType, resourceID string, clientID *int, meta RequestMeta, details map[string]interface{}) error {
	if actor.Username == "" {
		return fmt.Errorf("unauthorized access audit requires a username")
	}
	if resourceType == "" {
		return fmt.Errorf("unauthorized access audit requires a resource type")
	}

	stamped := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		stamped[k] = v
	}
	stamped["requires_review"] = true
	stamped["blocked_at"] = timeNow().UTC().Format(time.RFC3339)

	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        models.ActionUnauthorizedAccess,
		Result:        models.ResultBlocked,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		ClientID:      clientID,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: true,
		RiskLevel:     models.RiskCritical,
		Details:       stamped,
	})
}

// LogDataExport records a bulk export of client data. Exports are the highest
// exposure event the system has, so entries are always critical risk with the
// affected client ids recorded in the details.
func (l *Logger) LogDataExport(actor Actor, exportType string, clientIDs []int, meta RequestMeta, details map[string]interface{}) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if exportType == "" {
		return fmt.Errorf("data export audit requires an export type")
	}

	stamped := make(map[string]interface{}, len(details)+2)
	for k, v := range details {
		stamped[k] = v
	}
	stamped["client_count"] = len(clientIDs)
	stamped["client_ids"] = clientIDs

	return l.LogAction(&models.AuditLogEntry{
		UserID:        actor.UserID,
		Username:      actor.Username,
		Action:        models.ActionDataExported,
		Result:        models.ResultSuccess,
		ResourceType:  models.ResourceExport,
		ResourceID:    exportType,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		HIPAARelevant: true,
		RiskLevel:     models.RiskCritical,
		Details:       stamped,
	})
}

func requireActor(actor Actor) error {
	if actor.UserID == nil || *actor.UserID <= 0 {
		return fmt.Errorf("audit entry requires an authenticated user id")
	}
	if actor.Username == "" {
		return fmt.Errorf("audit entry requires a username")
	}
	return nil
}

// RecordLoginAttempt persists one row in the login attempt history. It never
// returns an error: a failed write must not block authentication, so failures
// are reported through the operational log only.
func (l *Logger) RecordLoginAttempt(username string, success bool, meta RequestMeta) {
	result := "failure"
	if success {
		result = "success"
	}
	telemetry.LoginAttemptsTotal.WithLabelValues(result).Inc()

	if username == "" {
		slog.Error("login attempt record skipped: empty username", "ip", meta.IPAddress)
		return
	}

	attempt := &models.LoginAttempt{
		Username:    username,
		Success:     success,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		AttemptedAt: timeNow().UTC(),
	}

	l.wg.Add(1)
	safego.Go(func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
		defer cancel()

		if err := l.attempts.Insert(ctx, attempt); err != nil {
			slog.Error("login attempt write failed",
				"error", err,
				"username", username,
				"ip", meta.IPAddress)
		}
	})
}

// CreateSession records a session visibility row for a successful login.
// Unlike the fire-and-forget paths this is synchronous and may fail; login
// handlers decide whether a session record failure aborts the login.
func (l *Logger) CreateSession(ctx context.Context, userID int, meta RequestMeta, expiresAt time.Time) (*models.UserSession, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("session record requires a user id")
	}
	if expiresAt.IsZero() {
		return nil, fmt.Errorf("session record requires an expiry")
	}
	return l.sessions.Insert(ctx, &models.UserSession{
		UserID:    userID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		ExpiresAt: expiresAt.UTC(),
	})
}

// Report is one page of the compliance report.
type Report struct {
	Entries []*models.AuditLogEntry `json:"entries"`
	Total   int                     `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// GetAuditReport returns a filtered, newest-first page of the audit trail.
// All non-nil filters apply conjunctively.
func (l *Logger) GetAuditReport(ctx context.Context, filters repositories.AuditFilters, limit, offset int) (*Report, error) {
	if filters.StartDate != nil && filters.EndDate != nil && filters.EndDate.Before(*filters.StartDate) {
		return nil, fmt.Errorf("report end date precedes start date")
	}
	if filters.RiskLevel != nil && !models.ValidRiskLevel(*filters.RiskLevel) {
		return nil, fmt.Errorf("invalid risk level %q", *filters.RiskLevel)
	}
	if limit <= 0 {
		limit = defaultReportLimit
	}
	if limit > maxReportLimit {
		limit = maxReportLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := l.store.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit report: %w", err)
	}
	if entries == nil {
		entries = []*models.AuditLogEntry{}
	}
	return &Report{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

// StartSpoolDrain launches the background loop that replays spooled entries
// into the database. The returned stop function halts the loop.
func (l *Logger) StartSpoolDrain(interval time.Duration) (stop func()) {
	if l.spool == nil {
		return func() {}
	}
	done := make(chan struct{})
	safego.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), l.writeTimeout)
				replayed, err := l.spool.Drain(ctx, l.store)
				cancel()
				if err != nil {
					slog.Warn("audit spool drain failed", "error", err)
					continue
				}
				if replayed > 0 {
					slog.Info("replayed spooled audit entries", "count", replayed)
				}
			case <-done:
				return
			}
		}
	})
	return func() { close(done) }
}
