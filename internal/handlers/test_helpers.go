package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds user claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, username, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID:   "id-" + username,
		Username: username,
		Role:     role,
		Type:     "access",
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithAdminContext adds admin user claims to request context
func WithAdminContext(req *http.Request, username string) *http.Request {
	return WithAuthContext(req, username, models.RoleAdmin)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockSecurityService implements SecurityServiceInterface for testing
type MockSecurityService struct {
	AuthenticateFunc          func(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error)
	IsBlockedFunc             func(username string) (bool, *models.BlockInfo)
	RevokeBlockFunc           func(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error)
	ManualBlockFunc           func(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error)
	ForceTerminateSessionFunc func(username, reason, by string) error
	LogoutFunc                func(username string) error
	SessionStatusFunc         func(username string, sessionCreatedAt *time.Time) models.SessionStatus
	ListActiveBlocksFunc      func() []models.BlockInfo
	ListActiveSessionsFunc    func() []models.SessionSummary
	StatsFunc                 func() models.SecurityStats
}

func (m *MockSecurityService) Authenticate(ctx context.Context, attempt services.LoginAttempt) (*services.AuthResult, error) {
	if m.AuthenticateFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.AuthenticateFunc(ctx, attempt)
}

func (m *MockSecurityService) IsBlocked(username string) (bool, *models.BlockInfo) {
	if m.IsBlockedFunc == nil {
		return false, nil
	}
	return m.IsBlockedFunc(username)
}

func (m *MockSecurityService) RevokeBlock(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error) {
	if m.RevokeBlockFunc == nil {
		return models.RevokeResult{Success: true, Username: username}, nil
	}
	return m.RevokeBlockFunc(username, revokedBy, scope)
}

func (m *MockSecurityService) ManualBlock(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error) {
	if m.ManualBlockFunc == nil {
		return models.ManualBlockResult{Success: true, Username: username, BlockLevel: level}, nil
	}
	return m.ManualBlockFunc(username, level, blockedBy, reason)
}

func (m *MockSecurityService) ForceTerminateSession(username, reason, by string) error {
	if m.ForceTerminateSessionFunc == nil {
		return nil
	}
	return m.ForceTerminateSessionFunc(username, reason, by)
}

func (m *MockSecurityService) Logout(username string) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(username)
}

func (m *MockSecurityService) SessionStatus(username string, sessionCreatedAt *time.Time) models.SessionStatus {
	if m.SessionStatusFunc == nil {
		return models.SessionStatus{Username: username}
	}
	return m.SessionStatusFunc(username, sessionCreatedAt)
}

func (m *MockSecurityService) ListActiveBlocks() []models.BlockInfo {
	if m.ListActiveBlocksFunc == nil {
		return []models.BlockInfo{}
	}
	return m.ListActiveBlocksFunc()
}

func (m *MockSecurityService) ListActiveSessions() []models.SessionSummary {
	if m.ListActiveSessionsFunc == nil {
		return []models.SessionSummary{}
	}
	return m.ListActiveSessionsFunc()
}

func (m *MockSecurityService) Stats() models.SecurityStats {
	if m.StatsFunc == nil {
		return models.SecurityStats{}
	}
	return m.StatsFunc()
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	GenerateAccessTokenFunc func(staff *models.Staff, sessionCreatedAt time.Time) (auth.IssuedToken, error)
}

func (m *MockTokenIssuer) GenerateAccessToken(staff *models.Staff, sessionCreatedAt time.Time) (auth.IssuedToken, error) {
	if m.GenerateAccessTokenFunc == nil {
		return auth.IssuedToken{AccessToken: "token-" + staff.Username, ExpiresAt: sessionCreatedAt.Add(15 * time.Minute)}, nil
	}
	return m.GenerateAccessTokenFunc(staff, sessionCreatedAt)
}

// MockEventLister implements SecurityEventLister for testing
type MockEventLister struct {
	ListEventsFunc func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

func (m *MockEventLister) ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if m.ListEventsFunc == nil {
		return []*models.SecurityEvent{}, nil
	}
	return m.ListEventsFunc(ctx, filter)
}
