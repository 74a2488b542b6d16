package models

import "time"

// UserSession is the bookkeeping record created alongside each issued session
// token. It exists for visibility (active-session listings, compliance
// questions like "who was logged in at the time") and is NOT consulted during
// token verification — tokens stay self-contained and stateless.
//
// LastActivity is the only field ever updated after insert.
type UserSession struct {
	ID           string // UUID
	UserID       int
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}
