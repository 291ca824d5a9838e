package routes

import (
	"net/http"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/go-chi/chi/v5"
)

// Options carries the optional parts of the route table
type Options struct {
	LoginRateLimit middleware.RateLimitConfig
	AdminRateLimit middleware.RateLimitConfig
	Metrics        http.Handler // nil leaves /metrics unmounted
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	securityHandler *handlers.SecurityHandler,
	tokens auth.TokenValidator,
	staff auth.StaffLookup,
	opts Options,
) {
	if opts.LoginRateLimit.RequestsPerMinute <= 0 {
		opts.LoginRateLimit = middleware.DefaultLoginRateLimit()
	}
	if opts.AdminRateLimit.RequestsPerMinute <= 0 {
		opts.AdminRateLimit = middleware.DefaultAdminRateLimit()
	}

	// Public routes - credential submission and status checks are throttled per address
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(opts.LoginRateLimit))
		r.Post("/auth/verify-credentials", securityHandler.VerifyCredentials)
		r.Post("/auth/login", securityHandler.Login)
	})
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(opts.LoginRateLimit))
		r.Post("/auth/check-block-status", securityHandler.CheckBlockStatus)
		r.Post("/auth/session-status", securityHandler.SessionStatus)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokens))
		r.Use(middleware.RecordCaller)

		r.Post("/auth/logout", securityHandler.Logout)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(staff, models.RoleAdmin, models.RoleDeveloper))
			r.Use(middleware.RateLimitByUsername(opts.AdminRateLimit))

			r.Post("/auth/revoke-block", securityHandler.RevokeBlock)
			r.Post("/auth/revoke-temporary-block", securityHandler.RevokeTemporaryBlock)
			r.Post("/auth/revoke-permanent-block", securityHandler.RevokePermanentBlock)
			r.Post("/auth/manual-block-user", securityHandler.ManualBlockUser)
			r.Post("/auth/terminate-session", securityHandler.TerminateSession)

			r.Get("/auth/security-stats", securityHandler.SecurityStats)
			r.Get("/auth/active-blocks", securityHandler.ActiveBlocks)
			r.Get("/auth/active-sessions", securityHandler.ActiveSessions)
			r.Get("/auth/security-events", securityHandler.SecurityEvents)
		})
	})

	if opts.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
}
