package models

import (
	"fmt"
	"time"
)

// MaxSignatureDisplayLen caps client signatures in summaries and dashboards
const MaxSignatureDisplayLen = 100

// SessionRecord is the single live session a username may hold
type SessionRecord struct {
	Username        string
	CreatedAt       time.Time
	SourceAddress   string
	ClientSignature string
	LastActivity    time.Time
}

// SessionSummary is the display form of a SessionRecord
type SessionSummary struct {
	Username        string    `json:"username"`
	StartedAt       time.Time `json:"started_at"`
	SourceAddress   string    `json:"ip_address"`
	ClientSignature string    `json:"user_agent"`
	DurationSeconds int       `json:"duration_seconds"`
	DurationText    string    `json:"session_duration"`
	LastActivity    time.Time `json:"last_activity"`
	CanTerminate    bool      `json:"can_terminate"`
}

// Summary builds the display form of the record as observed at now
func (s *SessionRecord) Summary(now time.Time) SessionSummary {
	elapsed := now.Sub(s.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return SessionSummary{
		Username:        s.Username,
		StartedAt:       s.CreatedAt,
		SourceAddress:   s.SourceAddress,
		ClientSignature: TruncateSignature(s.ClientSignature),
		DurationSeconds: int(elapsed / time.Second),
		DurationText:    FormatDuration(elapsed),
		LastActivity:    s.LastActivity,
		CanTerminate:    true,
	}
}

// TruncateSignature caps sig at MaxSignatureDisplayLen characters without splitting a rune
func TruncateSignature(sig string) string {
	n := 0
	for i := range sig {
		if n == MaxSignatureDisplayLen {
			return sig[:i]
		}
		n++
	}
	return sig
}

// FormatDuration renders d as "Hh Mm"
func FormatDuration(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", h, m)
}

// InvalidationMark is a short-lived tombstone set by forced termination
type InvalidationMark struct {
	Username string
	MarkedAt time.Time
	Reason   string
}

// SessionStatus is the answer to a client polling whether its session still holds
type SessionStatus struct {
	Username    string `json:"username"`
	Valid       bool   `json:"valid"`
	Invalidated bool   `json:"invalidated"`
}
