package handlers

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicedesk/practicedesk/internal/audit"
	"github.com/practicedesk/practicedesk/internal/config"
	"github.com/practicedesk/practicedesk/internal/db/models"
	"github.com/practicedesk/practicedesk/internal/db/repositories"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Setenv("PD_AUTH_SESSION_SECRET", "test-handler-secret-32-characters!!")
	os.Exit(m.Run())
}

// fakeAuditStore implements audit.Store for handler tests.
type fakeAuditStore struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry

	listEntries []*models.AuditLogEntry
	listTotal   int
	listErr     error
	lastFilters repositories.AuditFilters
	lastLimit   int
	lastOffset  int
}

func (f *fakeAuditStore) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) List(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLogEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilters = filters
	f.lastLimit = limit
	f.lastOffset = offset
	return f.listEntries, f.listTotal, f.listErr
}

func (f *fakeAuditStore) stored() []*models.AuditLogEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.AuditLogEntry(nil), f.entries...)
}

// findEntry returns the first stored entry with the given action.
func (f *fakeAuditStore) findEntry(action string) *models.AuditLogEntry {
	for _, e := range f.stored() {
		if e.Action == action {
			return e
		}
	}
	return nil
}

type fakeAttemptStore struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
}

func (f *fakeAttemptStore) Insert(ctx context.Context, attempt *models.LoginAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeAttemptStore) recorded() []*models.LoginAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.LoginAttempt(nil), f.attempts...)
}

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []*models.UserSession
	fail     bool
}

func (f *fakeSessionStore) Insert(ctx context.Context, session *models.UserSession) (*models.UserSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	session.ID = "11111111-2222-3333-4444-555555555555"
	session.CreatedAt = time.Now().UTC()
	session.LastActivity = session.CreatedAt
	f.sessions = append(f.sessions, session)
	return session, nil
}

type testAudit struct {
	logger   *audit.Logger
	store    *fakeAuditStore
	attempts *fakeAttemptStore
	sessions *fakeSessionStore
}

func newTestAudit() *testAudit {
	store := &fakeAuditStore{}
	attempts := &fakeAttemptStore{}
	sessions := &fakeSessionStore{}
	return &testAudit{
		logger:   audit.NewLogger(store, attempts, sessions, nil, time.Second),
		store:    store,
		attempts: attempts,
		sessions: sessions,
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			SessionTTL:     time.Hour,
			PortalTokenTTL: 30 * time.Minute,
			SecureCookies:  false,
		},
	}
}
