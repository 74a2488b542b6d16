package models

import "time"

// User is a staff account (therapist, admin, staff) that can authenticate
// against the practice backend. Client-portal accounts are a separate concern
// handled through portal activation tokens.
type User struct {
	ID           int
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Active       bool
	CreatedAt    time.Time
}
