package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

const invalidCredentialsDetail = "Invalid username or password"

// SecurityServiceInterface defines the account protection contract used by the handlers
type SecurityServiceInterface interface {
	Authenticate(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error)
	IsBlocked(username string) (bool, *models.BlockInfo)
	RevokeBlock(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error)
	ManualBlock(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error)
	ForceTerminateSession(username, reason, by string) error
	Logout(username string) error
	SessionStatus(username string, sessionCreatedAt *time.Time) models.SessionStatus
	ListActiveBlocks() []models.BlockInfo
	ListActiveSessions() []models.SessionSummary
	Stats() models.SecurityStats
}

// TokenIssuer issues bearer tokens for admitted logins
type TokenIssuer interface {
	GenerateAccessToken(staff *models.Staff, sessionCreatedAt time.Time) (auth.IssuedToken, error)
}

// SecurityEventLister reads the persisted audit log
type SecurityEventLister interface {
	ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

// SecurityHandler serves the login pipeline and the security dashboard
type SecurityHandler struct {
	security SecurityServiceInterface
	tokens   TokenIssuer
	events   SecurityEventLister
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(
	security SecurityServiceInterface,
	tokens TokenIssuer,
	events SecurityEventLister,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) *SecurityHandler {
	return &SecurityHandler{
		security: security,
		tokens:   tokens,
		events:   events,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// VerifyCredentials handles POST /auth/verify-credentials
func (h *SecurityHandler) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	result, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerifiedUserResponse{
		UserID:   result.Staff.ID,
		Username: result.Staff.Username,
		Role:     result.Staff.Role,
	})
}

// Login handles POST /auth/login
func (h *SecurityHandler) Login(w http.ResponseWriter, r *http.Request) {
	result, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	issued, err := h.tokens.GenerateAccessToken(result.Staff, result.Session.CreatedAt)
	if err != nil {
		h.logger.Error("failed to issue access token",
			slog.String("username", pkglogger.MaskUsername(result.Staff.Username)),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to issue access token")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{
		AccessToken:      issued.AccessToken,
		TokenType:        "bearer",
		ExpiresAt:        issued.ExpiresAt,
		SessionCreatedAt: result.Session.CreatedAt,
	})
}

// authenticate runs the admission pipeline and writes the denial response itself
func (h *SecurityHandler) authenticate(w http.ResponseWriter, r *http.Request) (*services.AuthResult, bool) {
	var req CredentialsRequest
	if !decodeAndValidate(w, r, &req) {
		return nil, false
	}

	result, err := h.security.Authenticate(r.Context(), services.LoginAttempt{
		Username:        req.Username,
		Password:        req.Password,
		SourceAddress:   pkghttp.ExtractClientIP(r, h.ipConfig),
		ClientSignature: pkghttp.ClientSignature(r),
	})
	if err != nil {
		h.writeAdmissionError(w, req.Username, err)
		return nil, false
	}
	return result, true
}

func (h *SecurityHandler) writeAdmissionError(w http.ResponseWriter, username string, err error) {
	var blocked *models.AccountBlockedError
	var conflict *models.SessionConflictError

	switch {
	case errors.As(err, &blocked):
		writeBlocked(w, blocked)
	case errors.As(err, &conflict):
		pkghttp.WriteJSON(w, http.StatusConflict, SessionConflictResponse{
			Error:           "session_conflict",
			Message:         "This account is already logged in on another device. Log out there first or wait for the session to expire.",
			Username:        conflict.Username,
			ExistingSession: conflict.Existing,
		})
	case errors.Is(err, models.ErrInvalidCredentials):
		// Unknown usernames and wrong passwords share one body
		pkghttp.WriteJSON(w, http.StatusUnauthorized, DetailResponse{Detail: invalidCredentialsDetail})
	default:
		h.logger.Error("authentication failed",
			slog.String("username", pkglogger.MaskUsername(username)),
			slog.Any("error", err))
		pkghttp.WriteServiceUnavailable(w, "Authentication is temporarily unavailable")
	}
}

func writeBlocked(w http.ResponseWriter, blocked *models.AccountBlockedError) {
	if blocked.Permanent {
		since := blocked.BlockedSince
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, BlockedResponse{
			Error:        "account_permanently_blocked",
			Message:      "This account has been permanently blocked. Contact an administrator.",
			Username:     blocked.Username,
			BlockedSince: &since,
			BlockLevel:   blocked.BlockLevel,
			ContactAdmin: true,
		})
		return
	}

	retryAfter := int((blocked.RetryAfter + time.Second - 1) / time.Second)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	pkghttp.WriteJSON(w, http.StatusTooManyRequests, BlockedResponse{
		Error:            "account_temporarily_blocked",
		Message:          "Too many failed login attempts. Try again in " + strconv.Itoa(blocked.RemainingMinutes) + " minute(s).",
		Username:         blocked.Username,
		RetryAfter:       retryAfter,
		BlockLevel:       blocked.BlockLevel,
		RemainingMinutes: blocked.RemainingMinutes,
	})
}

// CheckBlockStatus handles POST /auth/check-block-status
func (h *SecurityHandler) CheckBlockStatus(w http.ResponseWriter, r *http.Request) {
	var req UsernameRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	blocked, info := h.security.IsBlocked(req.Username)
	pkghttp.WriteJSON(w, http.StatusOK, BlockStatusResponse{
		Blocked:   blocked,
		Username:  req.Username,
		BlockInfo: info,
	})
}

// RevokeBlock handles POST /auth/revoke-block
func (h *SecurityHandler) RevokeBlock(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, models.RevokeAll)
}

// RevokeTemporaryBlock handles POST /auth/revoke-temporary-block
func (h *SecurityHandler) RevokeTemporaryBlock(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, models.RevokeTemporary)
}

// RevokePermanentBlock handles POST /auth/revoke-permanent-block
func (h *SecurityHandler) RevokePermanentBlock(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, models.RevokePermanent)
}

func (h *SecurityHandler) revoke(w http.ResponseWriter, r *http.Request, scope models.RevokeScope) {
	var req RevokeBlockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.security.RevokeBlock(req.Username, actor(r, req.RevokedBy), scope)
	if err != nil {
		h.logger.Error("revoke failed",
			slog.String("username", pkglogger.MaskUsername(req.Username)),
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "Failed to revoke block")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// ManualBlockUser handles POST /auth/manual-block-user
func (h *SecurityHandler) ManualBlockUser(w http.ResponseWriter, r *http.Request) {
	var req ManualBlockRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.security.ManualBlock(req.Username, req.BlockLevel, actor(r, req.BlockedBy), req.Reason)
	if err != nil {
		var ve *models.ValidationError
		switch {
		case errors.As(err, &ve):
			pkghttp.WriteValidationError(w, "Invalid block request", ve.Error())
		case errors.Is(err, models.ErrAlreadyBlocked):
			pkghttp.WriteError(w, http.StatusBadRequest, "already_blocked", req.Username+" is already blocked")
		default:
			pkghttp.WriteInternalError(w, "Failed to block user")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// TerminateSession handles POST /auth/terminate-session
func (h *SecurityHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	var req TerminateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.security.ForceTerminateSession(req.Username, req.Reason, actor(r, "")); err != nil {
		writeSessionError(w, req.Username, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Success:  true,
		Message:  "Session terminated for " + req.Username,
		Username: req.Username,
	})
}

// Logout handles POST /auth/logout
// Callers may end their own session. Ending another user's session needs an admin role.
func (h *SecurityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req TerminateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}
	if claims.Username != req.Username && !auth.HasRole(claims.Role, models.RoleAdmin, models.RoleDeveloper) {
		pkghttp.WriteForbidden(w, "Cannot log out another user")
		return
	}

	if err := h.security.Logout(req.Username); err != nil {
		writeSessionError(w, req.Username, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, MessageResponse{
		Success:  true,
		Message:  "Logged out",
		Username: req.Username,
	})
}

func writeSessionError(w http.ResponseWriter, username string, err error) {
	if errors.Is(err, models.ErrNoActiveSession) {
		pkghttp.WriteJSON(w, http.StatusNotFound, MessageResponse{
			Success:  false,
			Message:  "No active session for " + username,
			Username: username,
		})
		return
	}
	pkghttp.WriteInternalError(w, "Failed to end session")
}

// SessionStatus handles POST /auth/session-status
func (h *SecurityHandler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	var req SessionStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.security.SessionStatus(req.Username, req.SessionCreatedAt))
}

// SecurityStats handles GET /auth/security-stats
func (h *SecurityHandler) SecurityStats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.security.Stats())
}

// ActiveBlocks handles GET /auth/active-blocks
func (h *SecurityHandler) ActiveBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := h.security.ListActiveBlocks()
	pkghttp.WriteJSON(w, http.StatusOK, ActiveBlocksResponse{Blocks: blocks, Total: len(blocks)})
}

// ActiveSessions handles GET /auth/active-sessions
func (h *SecurityHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.security.ListActiveSessions()
	pkghttp.WriteJSON(w, http.StatusOK, ActiveSessionsResponse{Sessions: sessions, Total: len(sessions)})
}

// SecurityEvents handles GET /auth/security-events
// Accepts optional ?limit=N (1-500, default 100), ?type=a,b and ?username=.
func (h *SecurityHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.SecurityEventFilter{
		Username: query.Get("username"),
		Limit:    100,
	}
	if l := query.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 500 {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if o := query.Get("offset"); o != "" {
		n, err := strconv.Atoi(o)
		if err != nil || n < 0 {
			pkghttp.WriteBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	if t := query.Get("type"); t != "" {
		for _, eventType := range strings.Split(t, ",") {
			if eventType = strings.TrimSpace(eventType); eventType != "" {
				filter.EventTypes = append(filter.EventTypes, eventType)
			}
		}
	}

	events, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SecurityEventsResponse{Events: events, Total: len(events)})
}

// actor names who performed an administrative action: the explicit value, else the token holder
func actor(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.Username
	}
	return "admin"
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, "Request validation failed", err.Error())
		return false
	}
	return true
}
