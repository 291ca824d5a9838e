package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/filecoin-project/go-clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTypeAccess = "access"

// TokenManager handles JWT token generation and validation
type TokenManager struct {
	secret            []byte
	accessTokenExpiry time.Duration
	issuer            string
	clock             clock.Clock
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, accessExpiry time.Duration, issuer string, clk clock.Clock) *TokenManager {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenManager{
		secret:            []byte(secret),
		accessTokenExpiry: accessExpiry,
		issuer:            issuer,
		clock:             clk,
	}
}

// IssuedToken is a signed access token and its expiry
type IssuedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// GenerateAccessToken creates an access token bound to the session created at sessionCreatedAt
func (tm *TokenManager) GenerateAccessToken(staff *models.Staff, sessionCreatedAt time.Time) (IssuedToken, error) {
	now := tm.clock.Now()
	expiresAt := now.Add(tm.accessTokenExpiry)

	claims := &models.TokenClaims{
		Type:             tokenTypeAccess,
		UserID:           staff.ID,
		Username:         staff.Username,
		Role:             staff.Role,
		SessionCreatedAt: sessionCreatedAt.UnixMilli(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   staff.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return IssuedToken{AccessToken: tokenString, ExpiresAt: expiresAt}, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.clock.Now), jwt.WithIssuer(tm.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("invalid token type %q: %w", claims.Type, models.ErrUnauthorized)
	}

	return claims, nil
}

// SessionCreatedAt returns the session instant carried by the claims, if any
func SessionCreatedAt(claims *models.TokenClaims) *time.Time {
	if claims == nil || claims.SessionCreatedAt == 0 {
		return nil
	}
	t := time.UnixMilli(claims.SessionCreatedAt).UTC()
	return &t
}
