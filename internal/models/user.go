package models

import (
	"time"
)

// Staff is an account held in the credential store
type Staff struct {
	ID           string
	Username     string
	PasswordHash string
	Role         string // e.g., "staff", "admin", "developer"
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Roles allowed on the security dashboard
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
)
