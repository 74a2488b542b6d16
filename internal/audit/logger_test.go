package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
)

type fakeStore struct {
	mu         sync.Mutex
	entries    []*models.AuditLogEntry
	failInsert bool

	listEntries []*models.AuditLogEntry
	listTotal   int
	listErr     error
	lastFilters repositories.AuditFilters
	lastLimit   int
	lastOffset  int
}

func (f *fakeStore) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return fmt.Errorf("database is down")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeStore) List(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilters = filters
	f.lastLimit = limit
	f.lastOffset = offset
	return f.listEntries, f.listTotal, f.listErr
}

func (f *fakeStore) stored() []*models.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AuditLogEntry(nil), f.entries...)
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
	fail     bool
}

func (f *fakeAttemptStore) Insert(ctx context.Context, attempt *models.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("database is down")
	}
	f.attempts = append(f.attempts, attempt)
	return nil
}

type fakeSessionStore struct {
	fail bool
}

func (f *fakeSessionStore) Insert(ctx context.Context, session *models.UserSession) (*models.UserSession, error) {
	if f.fail {
		return nil, fmt.Errorf("database is down")
	}
	session.ID = "11111111-2222-3333-4444-555555555555"
	session.CreatedAt = time.Now().UTC()
	session.LastActivity = session.CreatedAt
	return session, nil
}

func newTestLogger(store *fakeStore) *Logger {
	return NewLogger(store, &fakeAttemptStore{}, &fakeSessionStore{}, nil, time.Second)
}

func intPtr(v int) *int { return &v }

// countingHandler counts error-level records so tests can assert the
// operational log fired exactly once per failed write.
type countingHandler struct {
	mu     sync.Mutex
	errors int
}

func (h *countingHandler) Enabled(ctx context.Context, level slog.Level) bool { return true }

func (h *countingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		h.mu.Lock()
		h.errors++
		h.mu.Unlock()
	}
	return nil
}

func (h *countingHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(name string) slog.Handler       { return h }

func (h *countingHandler) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errors
}

func TestLogActionValidation(t *testing.T) {
	base := func() *models.AuditLogEntry {
		return &models.AuditLogEntry{
			UserID:       intPtr(7),
			Username:     "dr.alvarez",
			Action:       models.ActionClientViewed,
			Result:       models.ResultSuccess,
			ResourceType: models.ResourceClient,
			ResourceID:   "42",
			RiskLevel:    models.RiskMedium,
		}
	}

	tests := []struct {
		name   string
		mutate func(*models.AuditLogEntry)
	}{
		{"missing username", func(e *models.AuditLogEntry) { e.Username = "" }},
		{"missing action", func(e *models.AuditLogEntry) { e.Action = "" }},
		{"missing resource type", func(e *models.AuditLogEntry) { e.ResourceType = "" }},
		{"invalid result", func(e *models.AuditLogEntry) { e.Result = "partial" }},
		{"invalid risk level", func(e *models.AuditLogEntry) { e.RiskLevel = "severe" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			logger := newTestLogger(store)

			entry := base()
			tt.mutate(entry)

			if err := logger.LogAction(entry); err == nil {
				t.Fatal("expected validation error")
			}
			logger.Flush()
			if got := len(store.stored()); got != 0 {
				t.Errorf("expected no persisted entries, got %d", got)
			}
		})
	}

	t.Run("nil entry", func(t *testing.T) {
		logger := newTestLogger(&fakeStore{})
		if err := logger.LogAction(nil); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestLogActionAssignsIdentityAndPersists(t *testing.T) {
	store := &fakeStore{}
	logger := newTestLogger(store)

	entry := &models.AuditLogEntry{
		UserID:       intPtr(7),
		Username:     "dr.alvarez",
		Action:       models.ActionClientViewed,
		Result:       models.ResultSuccess,
		ResourceType: models.ResourceClient,
		ResourceID:   "42",
		RiskLevel:    models.RiskMedium,
	}
	if err := logger.LogAction(entry); err != nil {
		t.Fatalf("LogAction failed: %v", err)
	}
	logger.Flush()

	stored := store.stored()
	if len(stored) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(stored))
	}
	got := stored[0]
	if got.ID == "" {
		t.Error("expected an assigned entry id")
	}
	if got.OccurredAt.IsZero() {
		t.Error("expected an assigned timestamp")
	}
	if !got.HIPAARelevant {
		t.Error("client resource entries must be HIPAA-relevant")
	}
}

func TestLogActionForcesHIPAAForPHIResources(t *testing.T) {
	for _, resource := range []string{models.ResourceClient, models.ResourceSession, models.ResourceDocument} {
		t.Run(resource, func(t *testing.T) {
			store := &fakeStore{}
			logger := newTestLogger(store)

			err := logger.LogAction(&models.AuditLogEntry{
				UserID:        intPtr(7),
				Username:      "dr.alvarez",
				Action:        "viewed",
				Result:        models.ResultSuccess,
				ResourceType:  resource,
				ResourceID:    "x",
				RiskLevel:     models.RiskMedium,
				HIPAARelevant: false,
			})
			if err != nil {
				t.Fatalf("LogAction failed: %v", err)
			}
			logger.Flush()

			stored := store.stored()
			if len(stored) != 1 || !stored[0].HIPAARelevant {
				t.Error("PHI resource entry was not flagged HIPAA-relevant")
			}
		})
	}
}

func TestLogActionStoreFailureDoesNotReachCaller(t *testing.T) {
	store := &fakeStore{failInsert: true}
	logger := newTestLogger(store)

	handler := &countingHandler{}
	prev := slog.Default()
	slog.SetDefault(slog.New(handler))
	defer slog.SetDefault(prev)

	for i := 0; i < 3; i++ {
		err := logger.LogAction(&models.AuditLogEntry{
			UserID:       intPtr(7),
			Username:     "dr.alvarez",
			Action:       models.ActionClientViewed,
			Result:       models.ResultSuccess,
			ResourceType: models.ResourceClient,
			ResourceID:   "42",
			RiskLevel:    models.RiskMedium,
		})
		if err != nil {
			t.Fatalf("LogAction must not surface persistence failures, got %v", err)
		}
	}
	logger.Flush()

	if got := len(store.stored()); got != 0 {
		t.Errorf("expected no persisted entries, got %d", got)
	}
	if got := handler.errorCount(); got != 3 {
		t.Errorf("expected one operational error log per failed write, got %d for 3 writes", got)
	}
}

func TestLogClientAccess(t *testing.T) {
	store := &fakeStore{}
	logger := newTestLogger(store)

	actor := Actor{UserID: intPtr(7), Username: "dr.alvarez"}
	meta := RequestMeta{IPAddress: "10.0.0.5", UserAgent: "test-agent"}

	err := logger.LogClientAccess(actor, models.ActionClientViewed, 42, meta, map[string]interface{}{"fields": "demographics"})
	if err != nil {
		t.Fatalf("LogClientAccess failed: %v", err)
	}
	logger.Flush()

	stored := store.stored()
	if len(stored) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(stored))
	}
	e := stored[0]
	if e.ResourceType != models.ResourceClient || e.ResourceID != "42" {
		t.Errorf("unexpected resource %s/%s", e.ResourceType, e.ResourceID)
	}
	if e.ClientID == nil || *e.ClientID != 42 {
		t.Error("expected client id 42")
	}
	if e.RiskLevel != models.RiskMedium || !e.HIPAARelevant {
		t.Errorf("expected medium/HIPAA, got %s/%v", e.RiskLevel, e.HIPAARelevant)
	}
	if e.IPAddress != "10.0.0.5" || e.UserAgent != "test-agent" {
		t.Error("request attribution not recorded")
	}

	t.Run("rejects missing actor", func(t *testing.T) {
		if err := logger.LogClientAccess(Actor{Username: "x"}, models.ActionClientViewed, 42, meta, nil); err == nil {
			t.Error("expected error for actor without user id")
		}
		if err := logger.LogClientAccess(actor, models.ActionClientViewed, 0, meta, nil); err == nil {
			t.Error("expected error for zero client id")
		}
	})
}

func TestLogSessionAndDocumentAccess(t *testing.T) {
	store := &fakeStore{}
	logger := newTestLogger(store)

	actor := Actor{UserID: intPtr(7), Username: "dr.alvarez"}
	meta := RequestMeta{IPAddress: "10.0.0.5"}

	if err := logger.LogSessionAccess(actor, models.ActionSessionViewed, "s-100", intPtr(42), meta, nil); err != nil {
		t.Fatalf("LogSessionAccess failed: %v", err)
	}
	if err := logger.LogDocumentAccess(actor, models.ActionDocumentDownloaded, "d-200", intPtr(42), meta, nil); err != nil {
		t.Fatalf("LogDocumentAccess failed: %v", err)
	}
	logger.Flush()

	stored := store.stored()
	if len(stored) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stored))
	}
	for _, e := range stored {
		if !e.HIPAARelevant {
			t.Errorf("%s entry must be HIPAA-relevant", e.ResourceType)
		}
		switch e.ResourceType {
		case models.ResourceSession:
			if e.RiskLevel != models.RiskMedium {
				t.Errorf("session access risk = %s, want medium", e.RiskLevel)
			}
		case models.ResourceDocument:
			if e.RiskLevel != models.RiskHigh {
				t.Errorf("document access risk = %s, want high", e.RiskLevel)
			}
		default:
			t.Errorf("unexpected resource type %s", e.ResourceType)
		}
	}
}

func TestLogAuthEventRisk(t *testing.T) {
	tests := []struct {
		name     string
		actor    Actor
		action   string
		result   models.Result
		wantRisk models.RiskLevel
	}{
		{"successful login is low risk", Actor{UserID: intPtr(7), Username: "dr.alvarez"}, models.ActionLoginSuccess, models.ResultSuccess, models.RiskLow},
		{"failed login is high risk", Actor{Username: "dr.alvarez"}, models.ActionLoginFailed, models.ResultFailure, models.RiskHigh},
		{"logout is low risk", Actor{UserID: intPtr(7), Username: "dr.alvarez"}, models.ActionLogout, models.ResultSuccess, models.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			logger := newTestLogger(store)

			if err := logger.LogAuthEvent(tt.actor, tt.action, tt.result, RequestMeta{}, nil); err != nil {
				t.Fatalf("LogAuthEvent failed: %v", err)
			}
			logger.Flush()

			stored := store.stored()
			if len(stored) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(stored))
			}
			e := stored[0]
			if e.RiskLevel != tt.wantRisk {
				t.Errorf("risk = %s, want %s", e.RiskLevel, tt.wantRisk)
			}
			if e.ResourceType != models.ResourceAuthentication {
				t.Errorf("resource type = %s, want authentication", e.ResourceType)
			}
			if e.HIPAARelevant {
				t.Error("auth events are not HIPAA-relevant")
			}
		})
	}

	t.Run("requires username", func(t *testing.T) {
		logger := newTestLogger(&fakeStore{})
		if err := logger.LogAuthEvent(Actor{}, models.ActionLoginFailed, models.ResultFailure, RequestMeta{}, nil); err == nil {
			t.Error("expected error for empty username")
		}
	})
}

func TestLogUnauthorizedAccess(t *testing.T) {
	store := &fakeStore{}
	logger := newTestLogger(store)

	actor := Actor{UserID: intPtr(9), Username: "staff.jones"}
	err := logger.LogUnauthorizedAccess(actor, models.ResourceClient, "42", intPtr(42), RequestMeta{IPAddress: "10.0.0.9"}, map[string]interface{}{"route": "/api/clients/42"})
	if err != nil {
		t.Fatalf("LogUnauthorizedAccess failed: %v", err)
	}
	logger.Flush()

	stored := store.stored()
	if len(stored) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(stored))
	}
	e := stored[0]
	if e.Action != models.ActionUnauthorizedAccess || e.Result != models.ResultBlocked {
		t.Errorf("unexpected action/result %s/%s", e.Action, e.Result)
	}
	if e.RiskLevel != models.RiskCritical || !e.HIPAARelevant {
		t.Errorf("expected critical/HIPAA, got %s/%v", e.RiskLevel, e.HIPAARelevant)
	}
	if v, ok := e.Details["requires_review"].(bool); !ok || !v {
		t.Error("expected requires_review=true in details")
	}
	if _, ok := e.Details["blocked_at"]; !ok {
		t.Error("expected blocked_at in details")
	}
	if e.Details["route"] != "/api/clients/42" {
		t.Error("caller-supplied details were lost")
	}
}

func TestLogDataExport(t *testing.T) {
	store := &fakeStore{}
	logger := newTestLogger(store)

	actor := Actor{UserID: intPtr(7), Username: "dr.alvarez"}
	clientIDs := []int{11, 22, 33}

	err := logger.LogDataExport(actor, "csv_full_history", clientIDs, RequestMeta{}, map[string]interface{}{"justification": "insurance audit"})
	if err != nil {
		t.Fatalf("LogDataExport failed: %v", err)
	}
	logger.Flush()

	stored := store.stored()
	if len(stored) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(stored))
	}
	e := stored[0]
	if e.RiskLevel != models.RiskCritical || !e.HIPAARelevant {
		t.Errorf("expected critical/HIPAA, got %s/%v", e.RiskLevel, e.HIPAARelevant)
	}
	if e.ResourceType != models.ResourceExport || e.ResourceID != "csv_full_history" {
		t.Errorf("unexpected resource %s/%s", e.ResourceType, e.ResourceID)
	}
	if got, ok := e.Details["client_count"].(int); !ok || got != 3 {
		t.Errorf("client_count = %v, want 3", e.Details["client_count"])
	}
	if ids, ok := e.Details["client_ids"].([]int); !ok || len(ids) != 3 {
		t.Errorf("client_ids = %v, want 3 ids", e.Details["client_ids"])
	}
}

func TestRecordLoginAttempt(t *testing.T) {
	t.Run("persists attempt", func(t *testing.T) {
		attempts := &fakeAttemptStore{}
		logger := NewLogger(&fakeStore{}, attempts, &fakeSessionStore{}, nil, time.Second)

		logger.RecordLoginAttempt("dr.alvarez", false, RequestMeta{IPAddress: "10.0.0.5", UserAgent: "test-agent"})
		logger.Flush()

		attempts.mu.Lock()
		defer attempts.mu.Unlock()
		if len(attempts.attempts) != 1 {
			t.Fatalf("expected 1 attempt, got %d", len(attempts.attempts))
		}
		a := attempts.attempts[0]
		if a.Username != "dr.alvarez" || a.Success || a.IPAddress != "10.0.0.5" {
			t.Errorf("unexpected attempt record %+v", a)
		}
		if a.AttemptedAt.IsZero() {
			t.Error("expected an assigned attempt timestamp")
		}
	})

	t.Run("store failure does not panic or surface", func(t *testing.T) {
		logger := NewLogger(&fakeStore{}, &fakeAttemptStore{fail: true}, &fakeSessionStore{}, nil, time.Second)
		logger.RecordLoginAttempt("dr.alvarez", true, RequestMeta{})
		logger.Flush()
	})

	t.Run("empty username is skipped", func(t *testing.T) {
		attempts := &fakeAttemptStore{}
		logger := NewLogger(&fakeStore{}, attempts, &fakeSessionStore{}, nil, time.Second)
		logger.RecordLoginAttempt("", true, RequestMeta{})
		logger.Flush()
		attempts.mu.Lock()
		defer attempts.mu.Unlock()
		if len(attempts.attempts) != 0 {
			t.Error("expected no attempt record for empty username")
		}
	})
}

func TestCreateSession(t *testing.T) {
	logger := newTestLogger(&fakeStore{})

	expires := time.Now().Add(24 * time.Hour)
	session, err := logger.CreateSession(context.Background(), 7, RequestMeta{IPAddress: "10.0.0.5"}, expires)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.ID == "" || session.UserID != 7 {
		t.Errorf("unexpected session %+v", session)
	}

	t.Run("propagates store failure", func(t *testing.T) {
		failing := NewLogger(&fakeStore{}, &fakeAttemptStore{}, &fakeSessionStore{fail: true}, nil, time.Second)
		if _, err := failing.CreateSession(context.Background(), 7, RequestMeta{}, expires); err == nil {
			t.Error("expected error from failing session store")
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		if _, err := logger.CreateSession(context.Background(), 0, RequestMeta{}, expires); err == nil {
			t.Error("expected error for zero user id")
		}
		if _, err := logger.CreateSession(context.Background(), 7, RequestMeta{}, time.Time{}); err == nil {
			t.Error("expected error for zero expiry")
		}
	})
}

func TestGetAuditReport(t *testing.T) {
	t.Run("applies default and max limits", func(t *testing.T) {
		store := &fakeStore{listTotal: 0}
		logger := newTestLogger(store)

		if _, err := logger.GetAuditReport(context.Background(), repositories.AuditFilters{}, 0, -5); err != nil {
			t.Fatalf("GetAuditReport failed: %v", err)
		}
		if store.lastLimit != defaultReportLimit || store.lastOffset != 0 {
			t.Errorf("limit/offset = %d/%d, want %d/0", store.lastLimit, store.lastOffset, defaultReportLimit)
		}

		if _, err := logger.GetAuditReport(context.Background(), repositories.AuditFilters{}, 10000, 0); err != nil {
			t.Fatalf("GetAuditReport failed: %v", err)
		}
		if store.lastLimit != maxReportLimit {
			t.Errorf("limit = %d, want %d", store.lastLimit, maxReportLimit)
		}
	})

	t.Run("rejects inverted date range", func(t *testing.T) {
		logger := newTestLogger(&fakeStore{})
		start := time.Now()
		end := start.Add(-time.Hour)
		_, err := logger.GetAuditReport(context.Background(), repositories.AuditFilters{StartDate: &start, EndDate: &end}, 0, 0)
		if err == nil {
			t.Error("expected error for end before start")
		}
	})

	t.Run("rejects unknown risk level", func(t *testing.T) {
		logger := newTestLogger(&fakeStore{})
		bad := models.RiskLevel("severe")
		if _, err := logger.GetAuditReport(context.Background(), repositories.AuditFilters{RiskLevel: &bad}, 0, 0); err == nil {
			t.Error("expected error for unknown risk level")
		}
	})

	t.Run("passes filters through and never returns nil entries", func(t *testing.T) {
		store := &fakeStore{listTotal: 12}
		logger := newTestLogger(store)

		userID := 7
		hipaa := true
		filters := repositories.AuditFilters{UserID: &userID, HIPAARelevant: &hipaa}

		report, err := logger.GetAuditReport(context.Background(), filters, 25, 50)
		if err != nil {
			t.Fatalf("GetAuditReport failed: %v", err)
		}
		if store.lastFilters.UserID == nil || *store.lastFilters.UserID != 7 {
			t.Error("user filter not passed through")
		}
		if report.Entries == nil {
			t.Error("entries must never be nil")
		}
		if report.Total != 12 || report.Limit != 25 || report.Offset != 50 {
			t.Errorf("unexpected page metadata %+v", report)
		}
	})

	t.Run("propagates query failure", func(t *testing.T) {
		store := &fakeStore{listErr: fmt.Errorf("database is down")}
		logger := newTestLogger(store)
		if _, err := logger.GetAuditReport(context.Background(), repositories.AuditFilters{}, 0, 0); err == nil {
			t.Error("expected error from failing store")
		}
	})
}
