package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(svc *handlers.MockSecurityService) *handlers.SecurityHandler {
	return handlers.NewSecurityHandler(svc, &handlers.MockTokenIssuer{}, &handlers.MockEventLister{}, nil, services.NewTestLogger())
}

func authenticatedAs(username, role string) func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
	return func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
		return &services.AuthResult{
			Staff:   services.NewTestStaff("id-"+username, username, role, ""),
			Session: models.SessionRecord{Username: username, CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
		}, nil
	}
}

func TestVerifyCredentials_Success(t *testing.T) {
	var seen services.LoginAttempt
	svc := &handlers.MockSecurityService{
		AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
			seen = attempt
			return authenticatedAs("alice", "staff")(ctx, attempt)
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "alice",
		Password: "correct",
	})
	req.Header.Set("User-Agent", "test-browser")
	req.RemoteAddr = "192.168.1.10:50000"

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	var resp handlers.VerifiedUserResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "id-alice", resp.UserID)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "staff", resp.Role)
	assert.Equal(t, "192.168.1.10", seen.SourceAddress)
	assert.Equal(t, "test-browser", seen.ClientSignature)
}

func TestVerifyCredentials_InvalidCredentials(t *testing.T) {
	svc := &handlers.MockSecurityService{}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "alice",
		Password: "wrong",
	})

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	var resp handlers.DetailResponse
	handlers.AssertJSONResponse(t, w, http.StatusUnauthorized, &resp)
	assert.Equal(t, "Invalid username or password", resp.Detail)
}

func TestVerifyCredentials_TemporaryBlock(t *testing.T) {
	svc := &handlers.MockSecurityService{
		AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
			return nil, &models.AccountBlockedError{
				Username:         "bob",
				RetryAfter:       59*time.Second + 500*time.Millisecond,
				RemainingMinutes: 1,
				BlockLevel:       1,
			}
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "bob",
		Password: "x",
	})

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	var resp handlers.BlockedResponse
	handlers.AssertJSONResponse(t, w, http.StatusTooManyRequests, &resp)
	assert.Equal(t, "account_temporarily_blocked", resp.Error)
	assert.Equal(t, "bob", resp.Username)
	assert.Equal(t, 60, resp.RetryAfter)
	assert.Equal(t, 1, resp.BlockLevel)
	assert.Equal(t, 1, resp.RemainingMinutes)
	assert.False(t, resp.ContactAdmin)
	assert.Nil(t, resp.BlockedSince)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.Equal(t, float64(60), raw["retry_after"])
	assert.NotContains(t, raw, "retryAfter")
}

func TestVerifyCredentials_PermanentBlock(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &handlers.MockSecurityService{
		AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
			return nil, &models.AccountBlockedError{Username: "bob", Permanent: true, BlockLevel: 7, BlockedSince: since}
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "bob",
		Password: "x",
	})

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	var resp handlers.BlockedResponse
	handlers.AssertJSONResponse(t, w, http.StatusTooManyRequests, &resp)
	assert.Equal(t, "account_permanently_blocked", resp.Error)
	assert.True(t, resp.ContactAdmin)
	require.NotNil(t, resp.BlockedSince)
	assert.True(t, since.Equal(*resp.BlockedSince))
	assert.Zero(t, resp.RetryAfter)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestVerifyCredentials_SessionConflict(t *testing.T) {
	svc := &handlers.MockSecurityService{
		AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
			return nil, &models.SessionConflictError{
				Username: "alice",
				Existing: models.SessionSummary{Username: "alice", SourceAddress: "10.0.0.1", DurationText: "1h 15m"},
			}
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "alice",
		Password: "correct",
	})

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	var resp handlers.SessionConflictResponse
	handlers.AssertJSONResponse(t, w, http.StatusConflict, &resp)
	assert.Equal(t, "session_conflict", resp.Error)
	assert.Equal(t, "10.0.0.1", resp.ExistingSession.SourceAddress)
	assert.Equal(t, "1h 15m", resp.ExistingSession.DurationText)
}

func TestVerifyCredentials_StoreFailure(t *testing.T) {
	svc := &handlers.MockSecurityService{
		AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
			return nil, errors.New("connection refused")
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", handlers.CredentialsRequest{
		Username: "alice",
		Password: "correct",
	})

	w := httptest.NewRecorder()
	newHandler(svc).VerifyCredentials(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusServiceUnavailable, "service_unavailable")
}

func TestVerifyCredentials_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{name: "missing password", body: map[string]string{"username": "alice"}, want: "validation_error"},
		{name: "missing username", body: map[string]string{"password": "x"}, want: "validation_error"},
		{name: "not json", body: "oops", want: "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc := &handlers.MockSecurityService{
				AuthenticateFunc: func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
					called = true
					return nil, models.ErrInvalidCredentials
				},
			}
			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/verify-credentials", tt.body)

			w := httptest.NewRecorder()
			newHandler(svc).VerifyCredentials(w, req)

			handlers.AssertErrorResponse(t, w, http.StatusBadRequest, tt.want)
			assert.False(t, called, "malformed requests never reach the admission pipeline")
		})
	}
}

func TestLogin_IssuesToken(t *testing.T) {
	svc := &handlers.MockSecurityService{AuthenticateFunc: authenticatedAs("alice", "staff")}
	var boundTo time.Time
	tokens := &handlers.MockTokenIssuer{
		GenerateAccessTokenFunc: func(staff *models.Staff, sessionCreatedAt time.Time) (auth.IssuedToken, error) {
			boundTo = sessionCreatedAt
			return auth.IssuedToken{AccessToken: "signed", ExpiresAt: sessionCreatedAt.Add(time.Hour)}, nil
		},
	}
	h := handlers.NewSecurityHandler(svc, tokens, &handlers.MockEventLister{}, nil, services.NewTestLogger())
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.CredentialsRequest{
		Username: "alice",
		Password: "correct",
	})

	w := httptest.NewRecorder()
	h.Login(w, req)

	var resp handlers.TokenResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "signed", resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
	assert.True(t, boundTo.Equal(resp.SessionCreatedAt))
}

func TestLogin_TokenFailure(t *testing.T) {
	svc := &handlers.MockSecurityService{AuthenticateFunc: authenticatedAs("alice", "staff")}
	tokens := &handlers.MockTokenIssuer{
		GenerateAccessTokenFunc: func(staff *models.Staff, sessionCreatedAt time.Time) (auth.IssuedToken, error) {
			return auth.IssuedToken{}, errors.New("signing failed")
		},
	}
	h := handlers.NewSecurityHandler(svc, tokens, &handlers.MockEventLister{}, nil, services.NewTestLogger())
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/login", handlers.CredentialsRequest{
		Username: "alice",
		Password: "correct",
	})

	w := httptest.NewRecorder()
	h.Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}

func TestCheckBlockStatus(t *testing.T) {
	svc := &handlers.MockSecurityService{
		IsBlockedFunc: func(username string) (bool, *models.BlockInfo) {
			if username == "bob" {
				return true, &models.BlockInfo{Username: "bob", Type: "temporary", BlockLevel: 1, Status: models.BlockStatusActiveTemporary}
			}
			return false, nil
		},
	}

	for _, username := range []string{"bob", "alice"} {
		req := handlers.NewTestRequest(t, http.MethodPost, "/auth/check-block-status", handlers.UsernameRequest{Username: username})
		w := httptest.NewRecorder()
		newHandler(svc).CheckBlockStatus(w, req)

		var resp handlers.BlockStatusResponse
		handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
		assert.Equal(t, username, resp.Username)
		assert.Equal(t, username == "bob", resp.Blocked)
		assert.Equal(t, username == "bob", resp.BlockInfo != nil)
	}
}

func TestRevokeEndpoints(t *testing.T) {
	tests := []struct {
		name      string
		call      func(h *handlers.SecurityHandler) http.HandlerFunc
		wantScope models.RevokeScope
	}{
		{"revoke-block", func(h *handlers.SecurityHandler) http.HandlerFunc { return h.RevokeBlock }, models.RevokeAll},
		{"revoke-temporary-block", func(h *handlers.SecurityHandler) http.HandlerFunc { return h.RevokeTemporaryBlock }, models.RevokeTemporary},
		{"revoke-permanent-block", func(h *handlers.SecurityHandler) http.HandlerFunc { return h.RevokePermanentBlock }, models.RevokePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotScope models.RevokeScope
			var gotBy string
			svc := &handlers.MockSecurityService{
				RevokeBlockFunc: func(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error) {
					gotScope, gotBy = scope, revokedBy
					return models.RevokeResult{Success: true, Username: username, WasBlocked: true, CompleteReset: true}, nil
				},
			}
			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/"+tt.name, handlers.RevokeBlockRequest{Username: "bob"})
			req = handlers.WithAdminContext(req, "root")

			w := httptest.NewRecorder()
			tt.call(newHandler(svc))(w, req)

			var resp models.RevokeResult
			handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.wantScope, gotScope)
			assert.Equal(t, "root", gotBy, "revoked_by defaults to the token holder")
		})
	}
}

func TestRevokeTemporaryBlock_ServiceError(t *testing.T) {
	svc := &handlers.MockSecurityService{
		RevokeBlockFunc: func(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error) {
			return models.RevokeResult{}, errors.New("state unavailable")
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/revoke-temporary-block", handlers.RevokeBlockRequest{
		Username:  "bob",
		RevokedBy: "auditor",
	})

	w := httptest.NewRecorder()
	newHandler(svc).RevokeTemporaryBlock(w, req)

	var resp pkghttp.ErrorResponse
	handlers.AssertJSONResponse(t, w, http.StatusInternalServerError, &resp)
	assert.Equal(t, "internal_error", resp.Error)
}

func TestManualBlockUser(t *testing.T) {
	tests := []struct {
		name       string
		level      int
		serviceErr error
		wantStatus int
		wantError  string
	}{
		{name: "level 3", level: 3, wantStatus: http.StatusOK},
		{name: "level 7", level: 7, wantStatus: http.StatusOK},
		{name: "level 0", level: 0, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{name: "level 8", level: 8, wantStatus: http.StatusBadRequest, wantError: "validation_error"},
		{name: "already blocked", level: 2, serviceErr: models.ErrAlreadyBlocked, wantStatus: http.StatusBadRequest, wantError: "already_blocked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &handlers.MockSecurityService{
				ManualBlockFunc: func(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error) {
					if tt.serviceErr != nil {
						return models.ManualBlockResult{}, tt.serviceErr
					}
					return models.ManualBlockResult{Success: true, Username: username, BlockLevel: level, BlockedBy: blockedBy}, nil
				},
			}
			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/manual-block-user", handlers.ManualBlockRequest{
				Username:   "mallory",
				BlockLevel: tt.level,
				BlockedBy:  "security-team",
			})

			w := httptest.NewRecorder()
			newHandler(svc).ManualBlockUser(w, req)

			if tt.wantError != "" {
				handlers.AssertErrorResponse(t, w, tt.wantStatus, tt.wantError)
				return
			}
			var resp models.ManualBlockResult
			handlers.AssertJSONResponse(t, w, tt.wantStatus, &resp)
			assert.Equal(t, tt.level, resp.BlockLevel)
			assert.Equal(t, "security-team", resp.BlockedBy)
		})
	}
}

func TestTerminateSession(t *testing.T) {
	svc := &handlers.MockSecurityService{
		ForceTerminateSessionFunc: func(username, reason, by string) error {
			if username == "carol" {
				return nil
			}
			return models.ErrNoActiveSession
		},
	}

	req := handlers.WithAdminContext(handlers.NewTestRequest(t, http.MethodPost, "/auth/terminate-session",
		handlers.TerminateSessionRequest{Username: "carol", Reason: "admin action"}), "root")
	w := httptest.NewRecorder()
	newHandler(svc).TerminateSession(w, req)
	handlers.AssertJSONResponse(t, w, http.StatusOK, nil)

	req = handlers.WithAdminContext(handlers.NewTestRequest(t, http.MethodPost, "/auth/terminate-session",
		handlers.TerminateSessionRequest{Username: "nobody"}), "root")
	w = httptest.NewRecorder()
	newHandler(svc).TerminateSession(w, req)

	var resp handlers.MessageResponse
	handlers.AssertJSONResponse(t, w, http.StatusNotFound, &resp)
	assert.False(t, resp.Success)
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		role       string
		target     string
		wantStatus int
	}{
		{name: "own session", caller: "alice", role: "staff", target: "alice", wantStatus: http.StatusOK},
		{name: "admin ends another", caller: "root", role: models.RoleAdmin, target: "alice", wantStatus: http.StatusOK},
		{name: "staff ends another", caller: "eve", role: "staff", target: "alice", wantStatus: http.StatusForbidden},
		{name: "no session", caller: "bob", role: "staff", target: "bob", wantStatus: http.StatusNotFound},
	}

	svc := &handlers.MockSecurityService{
		LogoutFunc: func(username string) error {
			if username == "bob" {
				return models.ErrNoActiveSession
			}
			return nil
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := handlers.NewTestRequest(t, http.MethodPost, "/auth/logout", handlers.TerminateSessionRequest{Username: tt.target})
			req = handlers.WithAuthContext(req, tt.caller, tt.role)

			w := httptest.NewRecorder()
			newHandler(svc).Logout(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestLogout_Unauthenticated(t *testing.T) {
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/logout", handlers.TerminateSessionRequest{Username: "alice"})
	w := httptest.NewRecorder()
	newHandler(&handlers.MockSecurityService{}).Logout(w, req)
	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestSessionStatus(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var seen *time.Time
	svc := &handlers.MockSecurityService{
		SessionStatusFunc: func(username string, sessionCreatedAt *time.Time) models.SessionStatus {
			seen = sessionCreatedAt
			return models.SessionStatus{Username: username, Invalidated: true}
		},
	}
	req := handlers.NewTestRequest(t, http.MethodPost, "/auth/session-status", handlers.SessionStatusRequest{
		Username:         "carol",
		SessionCreatedAt: &created,
	})

	w := httptest.NewRecorder()
	newHandler(svc).SessionStatus(w, req)

	var resp models.SessionStatus
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Invalidated)
	assert.False(t, resp.Valid)
	require.NotNil(t, seen)
	assert.True(t, created.Equal(*seen))
}

func TestDashboards(t *testing.T) {
	svc := &handlers.MockSecurityService{
		ListActiveBlocksFunc: func() []models.BlockInfo {
			return []models.BlockInfo{{Username: "bob"}, {Username: "mallory"}}
		},
		ListActiveSessionsFunc: func() []models.SessionSummary {
			return []models.SessionSummary{{Username: "alice"}}
		},
		StatsFunc: func() models.SecurityStats {
			return models.SecurityStats{Lockout: models.LockoutStats{TemporaryBlocks: 2}}
		},
	}
	h := newHandler(svc)

	w := httptest.NewRecorder()
	h.ActiveBlocks(w, httptest.NewRequest(http.MethodGet, "/auth/active-blocks", nil))
	var blocks handlers.ActiveBlocksResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &blocks)
	assert.Equal(t, 2, blocks.Total)

	w = httptest.NewRecorder()
	h.ActiveSessions(w, httptest.NewRequest(http.MethodGet, "/auth/active-sessions", nil))
	var sessions handlers.ActiveSessionsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &sessions)
	assert.Equal(t, 1, sessions.Total)

	w = httptest.NewRecorder()
	h.SecurityStats(w, httptest.NewRequest(http.MethodGet, "/auth/security-stats", nil))
	var stats models.SecurityStats
	handlers.AssertJSONResponse(t, w, http.StatusOK, &stats)
	assert.Equal(t, 2, stats.Lockout.TemporaryBlocks)
}

func TestSecurityEvents(t *testing.T) {
	var seen models.SecurityEventFilter
	events := &handlers.MockEventLister{
		ListEventsFunc: func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
			seen = filter
			e := models.NewSecurityEvent(models.EventTemporaryBlock, "bob", models.SeverityWarning, time.Now(), nil)
			return []*models.SecurityEvent{&e}, nil
		},
	}
	h := handlers.NewSecurityHandler(&handlers.MockSecurityService{}, &handlers.MockTokenIssuer{}, events, nil, services.NewTestLogger())

	w := httptest.NewRecorder()
	h.SecurityEvents(w, httptest.NewRequest(http.MethodGet,
		"/auth/security-events?limit=25&type=account_blocked_temporarily,%20session_force_terminated&username=bob", nil))

	var resp handlers.SecurityEventsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 25, seen.Limit)
	assert.Equal(t, "bob", seen.Username)
	assert.Equal(t, []string{models.EventTemporaryBlock, models.EventSessionForceEnded}, seen.EventTypes)
}

func TestSecurityEvents_BadLimit(t *testing.T) {
	w := httptest.NewRecorder()
	newHandler(&handlers.MockSecurityService{}).SecurityEvents(w, httptest.NewRequest(http.MethodGet, "/auth/security-events?limit=0", nil))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
}

func TestSecurityEvents_ListFailure(t *testing.T) {
	events := &handlers.MockEventLister{
		ListEventsFunc: func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
			return nil, errors.New("db down")
		},
	}
	h := handlers.NewSecurityHandler(&handlers.MockSecurityService{}, &handlers.MockTokenIssuer{}, events, nil, services.NewTestLogger())

	w := httptest.NewRecorder()
	h.SecurityEvents(w, httptest.NewRequest(http.MethodGet, "/auth/security-events", nil))
	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")
}
