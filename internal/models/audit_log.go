package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types for the security audit trail
const (
	EventFailedAttempt       = "failed_login_attempt"
	EventSuccessfulLogin     = "successful_login"
	EventTemporaryBlock      = "account_blocked_temporarily"
	EventPermanentBlock      = "account_blocked_permanently"
	EventBlockExpired        = "account_block_expired"
	EventBlockRevoked        = "complete_user_reset_by_admin"
	EventManualBlock         = "manual_block_applied_by_admin"
	EventSessionCreated      = "session_created"
	EventSessionTerminated   = "session_terminated"
	EventSessionForceEnded   = "session_force_terminated"
	EventSessionExpired      = "session_expired"
	EventSessionConflict     = "session_conflict_denied"
	EventInvalidationCleared = "session_invalidation_cleared"
)

// Severity levels attached to events
const (
	SeverityInfo          = "INFO"
	SeverityWarning       = "WARNING"
	SeverityCriticalAdmin = "CRITICAL_ADMIN_ACTION"
)

// Alert types handed to the notifier
const (
	AlertFailedLogin       = "failed_login"
	AlertAccountLockout    = "account_lockout"
	AlertSessionTerminated = "session_terminated"
)

// SecurityEvent is one immutable record of a state transition
type SecurityEvent struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	EventType  string        `db:"event_type" json:"event_type"`
	Username   string        `db:"username" json:"username"`
	Actor      *string       `db:"actor" json:"actor,omitempty"`
	Severity   string        `db:"severity" json:"severity"`
	IPAddress  *string       `db:"ip_address" json:"ip_address,omitempty"`
	Metadata   AuditMetadata `db:"metadata" json:"metadata,omitempty"`
	OccurredAt time.Time     `db:"occurred_at" json:"occurred_at"`
}

// NewSecurityEvent stamps a fresh event with an id
func NewSecurityEvent(eventType, username, severity string, at time.Time, metadata AuditMetadata) SecurityEvent {
	return SecurityEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		Username:   username,
		Severity:   severity,
		Metadata:   metadata,
		OccurredAt: at.UTC(),
	}
}

// WithActor returns a copy of the event attributed to actor
func (e SecurityEvent) WithActor(actor string) SecurityEvent {
	if actor != "" {
		e.Actor = &actor
	}
	return e
}

// WithIP returns a copy of the event carrying the source address
func (e SecurityEvent) WithIP(ip string) SecurityEvent {
	if ip != "" {
		e.IPAddress = &ip
	}
	return e
}

// AuditMetadata holds additional context for audit events
type AuditMetadata map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (am *AuditMetadata) Scan(value interface{}) error {
	if value == nil {
		*am = make(AuditMetadata)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*am = AuditMetadata(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (am AuditMetadata) Value() (driver.Value, error) {
	if am == nil {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}(am))
}

// SecurityEventFilter narrows a security event listing
type SecurityEventFilter struct {
	Username   string
	EventTypes []string
	Limit      int
	Offset     int
}
