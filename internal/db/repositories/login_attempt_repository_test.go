package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/practicedesk/practicedesk/internal/db/models"
)

func newLoginAttemptRepo(t *testing.T) (*LoginAttemptRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newTestDB(t)
	return NewLoginAttemptRepository(db), mock
}

// ---------------------------------------------------------------------------
// Insert
// ---------------------------------------------------------------------------

func TestLoginAttemptInsert_AssignsTimestamp(t *testing.T) {
	repo, mock := newLoginAttemptRepo(t)
	mock.ExpectExec("INSERT INTO login_attempts").
		WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := &models.LoginAttempt{
		Username:  "dr.smith",
		Success:   true,
		IPAddress: "1.2.3.4",
	}
	if err := repo.Insert(context.Background(), attempt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempt.AttemptedAt.IsZero() {
		t.Error("AttemptedAt not assigned")
	}
}

func TestLoginAttemptInsert_KeepsProvidedTimestamp(t *testing.T) {
	repo, mock := newLoginAttemptRepo(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO login_attempts").
		WithArgs("dr.smith", false, "1.2.3.4", "test-agent", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	attempt := &models.LoginAttempt{
		Username:    "dr.smith",
		Success:     false,
		IPAddress:   "1.2.3.4",
		UserAgent:   "test-agent",
		AttemptedAt: at,
	}
	if err := repo.Insert(context.Background(), attempt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !attempt.AttemptedAt.Equal(at) {
		t.Errorf("AttemptedAt = %v, want %v", attempt.AttemptedAt, at)
	}
}

func TestLoginAttemptInsert_Error(t *testing.T) {
	repo, mock := newLoginAttemptRepo(t)
	mock.ExpectExec("INSERT INTO login_attempts").
		WillReturnError(errDB)

	if err := repo.Insert(context.Background(), &models.LoginAttempt{Username: "dr.smith"}); err == nil {
		t.Error("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// CountRecentFailures
// ---------------------------------------------------------------------------

func TestCountRecentFailures(t *testing.T) {
	repo, mock := newLoginAttemptRepo(t)
	since := time.Now().Add(-15 * time.Minute)
	mock.ExpectQuery("SELECT COUNT.*FROM login_attempts").
		WithArgs("dr.smith", "1.2.3.4", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountRecentFailures(context.Background(), "dr.smith", "1.2.3.4", since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}
}

func TestCountRecentFailures_Error(t *testing.T) {
	repo, mock := newLoginAttemptRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM login_attempts").
		WillReturnError(errDB)

	_, err := repo.CountRecentFailures(context.Background(), "dr.smith", "1.2.3.4", time.Now())
	if err == nil {
		t.Error("expected error, got nil")
	}
}
