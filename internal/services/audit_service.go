package services

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
)

// SecurityEventRepository persists and lists security events
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
	List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

// AuditService handles security event logging with dual-write pattern (slog + database)
type AuditService struct {
	repo   SecurityEventRepository
	logger *slog.Logger
}

// NewAuditService creates a new AuditService. repo may be nil, in which case events are only logged.
func NewAuditService(repo SecurityEventRepository, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger,
	}
}

// Append logs the event and persists it. Persistence failures are logged and never returned.
func (s *AuditService) Append(ctx context.Context, event models.SecurityEvent) error {
	attrs := []any{
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.EventType),
		slog.String("username", event.Username),
		slog.String("severity", event.Severity),
		slog.Any("metadata", event.Metadata),
	}
	if event.Actor != nil {
		attrs = append(attrs, slog.String("actor", *event.Actor))
	}
	if event.IPAddress != nil {
		attrs = append(attrs, slog.String("ip_address", *event.IPAddress))
	}

	// Dual-write: immediate slog output
	switch event.Severity {
	case models.SeverityInfo:
		s.logger.InfoContext(ctx, "security event", attrs...)
	default:
		s.logger.WarnContext(ctx, "security event", attrs...)
	}

	if s.repo == nil {
		return nil
	}

	if err := s.repo.Create(ctx, &event); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist security event",
			slog.String("event_type", event.EventType),
			slog.Any("error", err),
		)
		// Non-critical: admission decisions never depend on the audit trail
		return nil
	}

	return nil
}

// ListEvents returns persisted events, newest first
func (s *AuditService) ListEvents(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if s.repo == nil {
		return []*models.SecurityEvent{}, nil
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.List(ctx, filter)
}
