package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultLoginRateLimit returns default rate limit config for the login endpoints (20 requests per minute).
// It sits in front of the account lockout and only bounds raw request volume per address.
func DefaultLoginRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 20,
	}
}

// DefaultAdminRateLimit returns default rate limit config for dashboard and admin endpoints
func DefaultAdminRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByUsername rate limits authenticated requests by the token holder.
// Requests without claims fall back to the client IP.
func RateLimitByUsername(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if claims := auth.GetUserFromContext(r); claims != nil && claims.Username != "" {
				return "user:" + claims.Username, nil
			}
			return httprate.KeyByRealIP(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Too many requests")
}
