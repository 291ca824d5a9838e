package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the claims carried by issued bearer tokens
type TokenClaims struct {
	Type             string `json:"type"`
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	Role             string `json:"role,omitempty"`
	SessionCreatedAt int64  `json:"sca,omitempty"` // unix millis of the SessionRecord the token belongs to
	jwt.RegisteredClaims
}
