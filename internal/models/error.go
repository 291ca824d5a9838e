package models

import (
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account protection errors
	ErrAccountTemporarilyBlocked = errors.New("account is temporarily blocked")
	ErrAccountPermanentlyBlocked = errors.New("account is permanently blocked")
	ErrSessionConflict           = errors.New("account already has an active session")
	ErrInvalidCredentials        = errors.New("invalid username or password")
	ErrValidation                = errors.New("validation failed")
	ErrAlreadyBlocked            = errors.New("account is already blocked")
	ErrNoActiveSession           = errors.New("no active session")
)

// AccountBlockedError is returned by admission checks when the lockout engine denies a username.
// It unwraps to ErrAccountTemporarilyBlocked or ErrAccountPermanentlyBlocked.
type AccountBlockedError struct {
	Username         string
	Permanent        bool
	RetryAfter       time.Duration
	RemainingMinutes int
	BlockLevel       int
	BlockedSince     time.Time
	UnblockAt        time.Time
}

func (e *AccountBlockedError) Error() string {
	if e.Permanent {
		return ErrAccountPermanentlyBlocked.Error()
	}
	return ErrAccountTemporarilyBlocked.Error()
}

func (e *AccountBlockedError) Unwrap() error {
	if e.Permanent {
		return ErrAccountPermanentlyBlocked
	}
	return ErrAccountTemporarilyBlocked
}

// SessionConflictError is returned when a username already holds a live session
// from a different device or outside the duplicate-request window.
type SessionConflictError struct {
	Username string
	Existing SessionSummary
}

func (e *SessionConflictError) Error() string {
	return ErrSessionConflict.Error()
}

func (e *SessionConflictError) Unwrap() error {
	return ErrSessionConflict
}

// ValidationError describes a malformed administrative request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return "validation failed: " + e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
