package handlers

import (
	"time"

	"github.com/BradenHooton/warden/internal/models"
)

// Request DTOs

// CredentialsRequest is the body of /auth/verify-credentials and /auth/login
type CredentialsRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required,max=128"`
}

// UsernameRequest is the body of /auth/check-block-status
type UsernameRequest struct {
	Username string `json:"username" validate:"required,max=150"`
}

// RevokeBlockRequest is the body of the revoke endpoints
type RevokeBlockRequest struct {
	Username  string `json:"username" validate:"required,max=150"`
	RevokedBy string `json:"revoked_by" validate:"max=150"`
}

// ManualBlockRequest is the body of /auth/manual-block-user
type ManualBlockRequest struct {
	Username   string `json:"username" validate:"required,max=150"`
	BlockLevel int    `json:"block_level" validate:"min=1,max=7"`
	BlockedBy  string `json:"blocked_by" validate:"max=150"`
	Reason     string `json:"reason" validate:"max=500"`
}

// TerminateSessionRequest is the body of /auth/terminate-session and /auth/logout
type TerminateSessionRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Reason   string `json:"reason" validate:"max=500"`
}

// SessionStatusRequest is the body of /auth/session-status
type SessionStatusRequest struct {
	Username         string     `json:"username" validate:"required,max=150"`
	SessionCreatedAt *time.Time `json:"session_created_at,omitempty"`
}

// Response DTOs

// BlockedResponse is the 429 body for a denied admission
type BlockedResponse struct {
	Error            string     `json:"error"`
	Message          string     `json:"message"`
	Username         string     `json:"username"`
	RetryAfter       int        `json:"retry_after,omitempty"`
	BlockedSince     *time.Time `json:"blocked_since,omitempty"`
	BlockLevel       int        `json:"block_level,omitempty"`
	RemainingMinutes int        `json:"remaining_minutes,omitempty"`
	ContactAdmin     bool       `json:"contact_admin,omitempty"`
}

// SessionConflictResponse is the 409 body for a conflicting live session
type SessionConflictResponse struct {
	Error           string                `json:"error"`
	Message         string                `json:"message"`
	Username        string                `json:"username"`
	ExistingSession models.SessionSummary `json:"existing_session"`
}

// DetailResponse is the 401 body for rejected credentials
type DetailResponse struct {
	Detail string `json:"detail"`
}

// VerifiedUserResponse is the 200 body of /auth/verify-credentials
type VerifiedUserResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// TokenResponse is the 200 body of /auth/login
type TokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionCreatedAt time.Time `json:"session_created_at"`
}

// BlockStatusResponse is the 200 body of /auth/check-block-status
type BlockStatusResponse struct {
	Blocked   bool              `json:"blocked"`
	Username  string            `json:"username"`
	BlockInfo *models.BlockInfo `json:"block_info,omitempty"`
}

// MessageResponse is a generic {success, message} body
type MessageResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Username string `json:"username,omitempty"`
}

// ActiveBlocksResponse lists the active blocks
type ActiveBlocksResponse struct {
	Blocks []models.BlockInfo `json:"active_blocks"`
	Total  int                `json:"total"`
}

// ActiveSessionsResponse lists the live sessions
type ActiveSessionsResponse struct {
	Sessions []models.SessionSummary `json:"active_sessions"`
	Total    int                     `json:"total"`
}

// SecurityEventsResponse lists persisted security events
type SecurityEventsResponse struct {
	Events []*models.SecurityEvent `json:"events"`
	Total  int                     `json:"total"`
}
