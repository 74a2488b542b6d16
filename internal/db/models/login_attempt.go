package models

import "time"

// LoginAttempt records a single authentication attempt, successful or not.
// Written once per attempt, never mutated; the brute-force monitor reads
// recent failures per username and source IP.
type LoginAttempt struct {
	ID          int64
	Username    string
	Success     bool
	IPAddress   string
	UserAgent   string
	AttemptedAt time.Time
}
