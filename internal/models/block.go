package models

import "time"

// BlockKind tags the variant held by a BlockState
type BlockKind int

const (
	Unblocked BlockKind = iota
	TemporaryBlock
	PermanentBlock
)

func (k BlockKind) String() string {
	switch k {
	case TemporaryBlock:
		return "temporary"
	case PermanentBlock:
		return "permanent"
	default:
		return "unblocked"
	}
}

// Manual block levels accepted by the admin surface
const (
	MinManualBlockLevel = 1
	MaxManualBlockLevel = 7
	PermanentBlockLevel = 7
)

// BlockState is the lockout state of one username.
// UnblockAt is set only for TemporaryBlock. Since is the instant the block was applied.
type BlockState struct {
	Kind      BlockKind
	UnblockAt time.Time
	Since     time.Time
	Level     int
	Manual    bool
}

// Active reports whether the state denies admission at now.
// An expired temporary block is not active even though it has not been cleared yet.
func (b BlockState) Active(now time.Time) bool {
	switch b.Kind {
	case PermanentBlock:
		return true
	case TemporaryBlock:
		return now.Before(b.UnblockAt)
	default:
		return false
	}
}

// BlockInfo is the read-only view of a block, used by the status probe and dashboards
type BlockInfo struct {
	Username         string     `json:"username"`
	Type             string     `json:"type"`
	BlockLevel       int        `json:"block_level"`
	UnblockTime      *time.Time `json:"unblock_time,omitempty"`
	BlockedSince     *time.Time `json:"blocked_since,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes,omitempty"`
	Status           string     `json:"status"`
	CanRevoke        bool       `json:"can_revoke"`
}

// Dashboard status values for BlockInfo
const (
	BlockStatusActiveTemporary = "ACTIVE_TEMPORARY"
	BlockStatusPermanent       = "PERMANENT"
	BlockStatusExpired         = "EXPIRED"
)

// RevokeScope restricts a revoke to one block kind. Any revoke that applies is a complete reset.
type RevokeScope string

const (
	RevokeAll       RevokeScope = "all"
	RevokeTemporary RevokeScope = "temporary"
	RevokePermanent RevokeScope = "permanent"
)

// RevokeResult reports the outcome of a revoke
type RevokeResult struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	Username      string    `json:"username"`
	BlockType     string    `json:"block_type"`
	WasBlocked    bool      `json:"was_blocked"`
	RevokedBy     string    `json:"revoked_by"`
	RevokedAt     time.Time `json:"revoked_at"`
	CompleteReset bool      `json:"complete_reset"`
}

// ManualBlockResult reports the outcome of an administrative block
type ManualBlockResult struct {
	Success    bool       `json:"success"`
	Message    string     `json:"message"`
	Username   string     `json:"username"`
	BlockLevel int        `json:"block_level"`
	BlockType  string     `json:"block_type"`
	BlockedBy  string     `json:"blocked_by"`
	BlockedAt  time.Time  `json:"blocked_at"`
	UnblockAt  *time.Time `json:"unblock_at,omitempty"`
	Reason     string     `json:"reason"`
}
