package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
)

// SecureLogger returns a middleware for logging HTTP requests with sensitive data redaction.
// In production the peer address is redacted as well.
func SecureLogger(logger *slog.Logger, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// The auth middleware replaces the request further down the chain, so
			// capture its claims through a holder placed in the context up front.
			holder := &claimsHolder{}
			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), claimsHolderKey, holder)))

			path := r.URL.Path
			if pkglogger.SanitizeQueryString(r.URL.RawQuery) {
				path = path + "?[REDACTED]"
			} else if r.URL.RawQuery != "" {
				path = r.URL.Path + "?" + r.URL.RawQuery
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", path),
				slog.Int("status", wrapped.Status()),
				slog.Int64("bytes", int64(wrapped.BytesWritten())),
				slog.String("duration", time.Since(start).String()),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				pkglogger.RedactedAttr("remote_addr", r.RemoteAddr, env),
			}
			if holder.username != "" {
				attrs = append(attrs, slog.String("caller", pkglogger.MaskUsername(holder.username)))
			}

			level := slog.LevelInfo
			if wrapped.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.LogAttrs(context.Background(), level, "http_request", attrs...)
		})
	}
}

type claimsHolderKeyType struct{}

var claimsHolderKey = claimsHolderKeyType{}

type claimsHolder struct {
	username string
}

// RecordCaller stores the authenticated caller for the request log. Mount it after AuthMiddleware.
func RecordCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder, ok := r.Context().Value(claimsHolderKey).(*claimsHolder); ok {
			if claims := auth.GetUserFromContext(r); claims != nil {
				holder.username = claims.Username
			}
		}
		next.ServeHTTP(w, r)
	})
}
