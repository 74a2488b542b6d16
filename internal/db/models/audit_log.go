// Package models defines the persisted entities of the security core: the
// append-only audit trail, login attempts, active user sessions, and users.
package models

import "time"

// Result classifies the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultBlocked Result = "blocked"
)

// RiskLevel is the coarse severity tag guiding compliance review prioritization.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Resource type tags for audit entries.
const (
	ResourceClient         = "client"
	ResourceSession        = "session"
	ResourceDocument       = "document"
	ResourceAuthentication = "authentication"
	ResourceExport         = "export"
)

// Action tags recorded in the audit trail. Handlers may record additional
// dotted variants (e.g. "client_updated"); these are the ones the core emits.
const (
	ActionClientViewed       = "client_viewed"
	ActionSessionViewed      = "session_viewed"
	ActionDocumentDownloaded = "document_downloaded"
	ActionLoginSuccess       = "login_success"
	ActionLoginFailed        = "login_failed"
	ActionLogout             = "logout"
	ActionUnauthorizedAccess = "unauthorized_access"
	ActionDataExported       = "data_exported"
	ActionPortalInvited      = "portal_invited"
	ActionPortalActivated    = "portal_activated"
	ActionPasswordReset      = "password_reset"
)

// AuditLogEntry is one immutable record in the append-only compliance trail.
// Entries are never updated or deleted once written.
//
// Every entry touching a PHI resource type (client, session, document) must
// carry HIPAARelevant=true; export actions and unauthorized-access attempts
// are always critical risk. Those invariants are enforced by the audit
// package's recording helpers, not by this struct.
type AuditLogEntry struct {
	ID            string // ULID: lexically time-ordered, suits an append-only log
	UserID        *int   // nil for unauthenticated/unknown actors
	Username      string
	Action        string
	Result        Result
	ResourceType  string
	ResourceID    string
	ClientID      *int // associated client, for PHI correlation
	IPAddress     string
	UserAgent     string
	HIPAARelevant bool
	RiskLevel     RiskLevel
	Details       map[string]interface{} // serialized to a JSONB blob
	Justification string                 // optional access-justification supplied by the actor
	OccurredAt    time.Time              // server-assigned
}

// IsPHIResource reports whether a resource type carries protected health
// information and therefore requires HIPAA-relevant flagging.
func IsPHIResource(resourceType string) bool {
	switch resourceType {
	case ResourceClient, ResourceSession, ResourceDocument:
		return true
	}
	return false
}

// ValidRiskLevel reports whether s is one of the defined risk levels.
func ValidRiskLevel(s RiskLevel) bool {
	switch s {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// ValidResult reports whether s is one of the defined results.
func ValidResult(s Result) bool {
	switch s {
	case ResultSuccess, ResultFailure, ResultBlocked:
		return true
	}
	return false
}
