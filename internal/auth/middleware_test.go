package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStaffLookup struct {
	GetByUsernameFunc func(ctx context.Context, username string) (*models.Staff, error)
}

func (m *mockStaffLookup) GetByUsername(ctx context.Context, username string) (*models.Staff, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	tm, clk := newTestTokenManager()
	issued, err := tm.GenerateAccessToken(testStaff(), clk.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid token", "Bearer " + issued.AccessToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen *models.TokenClaims
			handler := AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetUserFromContext(r)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/auth/active-blocks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, "alice", seen.Username)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	staff := map[string]*models.Staff{
		"alice": {Username: "alice", Role: models.RoleAdmin, Active: true},
		"dev":   {Username: "dev", Role: models.RoleDeveloper, Active: true},
		"nurse": {Username: "nurse", Role: "staff", Active: true},
		"gone":  {Username: "gone", Role: models.RoleAdmin, Active: false},
	}
	lookup := &mockStaffLookup{GetByUsernameFunc: func(ctx context.Context, username string) (*models.Staff, error) {
		if username == "broken" {
			return nil, errors.New("db down")
		}
		if s, ok := staff[username]; ok {
			return s, nil
		}
		return nil, models.ErrNotFound
	}}

	tests := []struct {
		username string
		want     int
	}{
		{"alice", http.StatusOK},
		{"dev", http.StatusOK},
		{"nurse", http.StatusForbidden},
		{"gone", http.StatusForbidden},
		{"unknown", http.StatusUnauthorized},
		{"broken", http.StatusInternalServerError},
	}

	handler := RequireRole(lookup, models.RoleAdmin, models.RoleDeveloper)(okHandler())
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/active-blocks", nil)
			ctx := context.WithValue(req.Context(), UserContextKey, &models.TokenClaims{Username: tt.username})
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req.WithContext(ctx))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRequireRole_NoClaims(t *testing.T) {
	handler := RequireRole(&mockStaffLookup{}, models.RoleAdmin)(okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
