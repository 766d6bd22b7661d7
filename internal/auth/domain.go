package auth

import "time"

// User represents an authenticated user account. Every user doubles as a
// salesperson; Initials feed the quotation numbering scheme.
type User struct {
	ID           int64
	Email        string
	FullName     string
	Initials     string
	Role         string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
