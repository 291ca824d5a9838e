package models

import "time"

// SecurityStats is the aggregate dashboard view of the protection core
type SecurityStats struct {
	Lockout     LockoutStats     `json:"lockout_metrics"`
	Sessions    SessionStats     `json:"session_metrics"`
	Operational OperationalStats `json:"operational_metrics"`
	Config      ProtectionConfig `json:"configuration"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type LockoutStats struct {
	TemporaryBlocks   int            `json:"temporary_blocks"`
	PermanentBlocks   int            `json:"permanent_blocks"`
	TotalBlocked      int            `json:"total_blocked_accounts"`
	UsersWithFailures int            `json:"users_with_failed_attempts"`
	MonitoredAccounts int            `json:"monitored_accounts"`
	EscalationLevels  map[string]int `json:"escalation_levels"`
}

type SessionStats struct {
	ActiveSessions     int      `json:"active_sessions"`
	LoggedInUsernames  []string `json:"logged_in_usernames"`
	PendingInvalidated int      `json:"pending_invalidations"`
	Terminations       int64    `json:"terminations"`
}

type OperationalStats struct {
	TotalFailuresTracked   int     `json:"total_failed_attempts_tracked"`
	AverageFailuresPerUser float64 `json:"average_failures_per_user"`
}

// ProtectionConfig echoes the active lockout and session policy
type ProtectionConfig struct {
	Threshold          int      `json:"max_attempts_per_cycle"`
	Ladder             []string `json:"lockout_ladder"`
	SessionMaxAge      string   `json:"session_timeout"`
	DuplicateWindow    string   `json:"duplicate_request_window"`
	InvalidationTTL    string   `json:"invalidation_ttl"`
	LedgerCapacity     int      `json:"attempt_ledger_capacity"`
	SingleSessionLogin bool     `json:"single_session_enforced"`
}
