package services

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/filecoin-project/go-clock"
)

// SessionConfig holds session lifetime policy
type SessionConfig struct {
	MaxAge          time.Duration // absolute session timeout
	DuplicateWindow time.Duration // same-device retries inside this window are not conflicts
	InvalidationTTL time.Duration // lifetime of a forced-termination mark
}

// DefaultSessionConfig returns the standard 8h / 3s / 30s policy
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge:          8 * time.Hour,
		DuplicateWindow: 3 * time.Second,
		InvalidationTTL: 30 * time.Second,
	}
}

// SessionService enforces a single live session per username.
// All state is guarded by one mutex, independent of LockoutService.
type SessionService struct {
	mu           sync.Mutex
	cfg          SessionConfig
	clock        clock.Clock
	sessions     map[string]*models.SessionRecord
	marks        map[string]models.InvalidationMark
	terminations int64

	publisher EventPublisher
	metrics   SecurityMetrics
	logger    *slog.Logger
}

// NewSessionService creates a SessionService. publisher and metrics may be nil.
func NewSessionService(cfg SessionConfig, clk clock.Clock, publisher EventPublisher, metrics SecurityMetrics, logger *slog.Logger) *SessionService {
	defaults := DefaultSessionConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaults.MaxAge
	}
	if cfg.DuplicateWindow < 0 {
		cfg.DuplicateWindow = defaults.DuplicateWindow
	}
	if cfg.InvalidationTTL <= 0 {
		cfg.InvalidationTTL = defaults.InvalidationTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	if publisher == nil {
		publisher = discardPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	return &SessionService{
		cfg:       cfg,
		clock:     clk,
		sessions:  make(map[string]*models.SessionRecord),
		marks:     make(map[string]models.InvalidationMark),
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}
}

// Config returns the active policy
func (s *SessionService) Config() SessionConfig {
	return s.cfg
}

// CheckAdmission returns nil if username holds no conflicting session, or a *models.SessionConflictError.
// An expired session is removed here.
func (s *SessionService) CheckAdmission(username, sourceAddress, clientSignature string) error {
	now := s.clock.Now()

	s.mu.Lock()
	record, ok := s.sessions[username]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	age := now.Sub(record.CreatedAt)
	if age >= s.cfg.MaxAge {
		delete(s.sessions, username)
		s.mu.Unlock()
		s.announceExpired(username, record, now)
		return nil
	}

	if age < s.cfg.DuplicateWindow &&
		record.SourceAddress == sourceAddress &&
		record.ClientSignature == clientSignature {
		s.mu.Unlock()
		s.logger.Debug("duplicate login request tolerated", slog.String("username", username))
		return nil
	}

	summary := record.Summary(now)
	s.mu.Unlock()

	s.logger.Warn("login denied by active session",
		slog.String("username", username),
		slog.String("existing_ip", summary.SourceAddress),
		slog.String("session_duration", summary.DurationText))
	s.publisher.Publish(models.NewSecurityEvent(models.EventSessionConflict, username, models.SeverityWarning, now, models.AuditMetadata{
		"existing_started_at": summary.StartedAt,
		"existing_ip":         summary.SourceAddress,
		"session_duration":    summary.DurationText,
	}).WithIP(sourceAddress))

	return &models.SessionConflictError{Username: username, Existing: summary}
}

// CreateSession records a new session for username, replacing any existing one and
// clearing any invalidation mark.
func (s *SessionService) CreateSession(username, sourceAddress, clientSignature string) models.SessionRecord {
	now := s.clock.Now()
	record := &models.SessionRecord{
		Username:        username,
		CreatedAt:       now,
		SourceAddress:   sourceAddress,
		ClientSignature: clientSignature,
		LastActivity:    now,
	}

	s.mu.Lock()
	s.sessions[username] = record
	_, hadMark := s.marks[username]
	delete(s.marks, username)
	s.mu.Unlock()

	s.logger.Info("session created", slog.String("username", username), slog.String("ip_address", sourceAddress))
	s.publisher.Publish(models.NewSecurityEvent(models.EventSessionCreated, username, models.SeverityInfo, now, models.AuditMetadata{
		"user_agent": models.TruncateSignature(clientSignature),
	}).WithIP(sourceAddress))
	if hadMark {
		s.publisher.Publish(models.NewSecurityEvent(models.EventInvalidationCleared, username, models.SeverityInfo, now, nil))
	}

	return *record
}

// Terminate ends the session of username on normal logout. It reports whether a session existed.
func (s *SessionService) Terminate(username string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	record, ok := s.sessions[username]
	delete(s.sessions, username)
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.metrics.SessionEnded(SessionEndLogout)
	s.logger.Info("session terminated", slog.String("username", username))
	s.publisher.Publish(models.NewSecurityEvent(models.EventSessionTerminated, username, models.SeverityInfo, now, models.AuditMetadata{
		"session_duration": models.FormatDuration(now.Sub(record.CreatedAt)),
	}))
	return true
}

// ForceTerminate ends the session of username and marks it invalidated so a client still holding it
// observes the termination. No mark is set when no session existed.
func (s *SessionService) ForceTerminate(username, reason, by string) bool {
	now := s.clock.Now()

	s.mu.Lock()
	record, ok := s.sessions[username]
	if ok {
		delete(s.sessions, username)
		s.marks[username] = models.InvalidationMark{Username: username, MarkedAt: now, Reason: reason}
		s.terminations++
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.metrics.SessionEnded(SessionEndForced)
	s.logger.Warn("session force terminated",
		slog.String("username", username),
		slog.String("reason", reason),
		slog.String("terminated_by", by))
	s.publisher.Publish(models.NewSecurityEvent(models.EventSessionForceEnded, username, models.SeverityCriticalAdmin, now, models.AuditMetadata{
		"reason":           reason,
		"session_duration": models.FormatDuration(now.Sub(record.CreatedAt)),
		"ip_address":       record.SourceAddress,
	}).WithActor(by))
	s.publisher.Alert(models.AlertSessionTerminated, map[string]any{
		"username":      username,
		"reason":        reason,
		"terminated_by": by,
		"ip_address":    record.SourceAddress,
	})
	return true
}

// IsInvalidated reports whether a client session for username must be treated as ended.
// When sessionCreatedAt is nil any live mark invalidates. Marks older than the TTL are cleared here.
func (s *SessionService) IsInvalidated(username string, sessionCreatedAt *time.Time) bool {
	now := s.clock.Now()

	s.mu.Lock()
	mark, ok := s.marks[username]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if now.Sub(mark.MarkedAt) > s.cfg.InvalidationTTL {
		delete(s.marks, username)
		s.mu.Unlock()
		s.publisher.Publish(models.NewSecurityEvent(models.EventInvalidationCleared, username, models.SeverityInfo, now, models.AuditMetadata{
			"auto_expired": true,
		}))
		return false
	}
	s.mu.Unlock()

	if sessionCreatedAt == nil {
		return true
	}
	return sessionCreatedAt.Before(mark.MarkedAt)
}

// Touch refreshes last activity on the live session of username started at createdAt.
// It reports false when no such session exists.
func (s *SessionService) Touch(username string, createdAt time.Time) bool {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[username]
	if !ok || !record.CreatedAt.Equal(createdAt) || now.Sub(record.CreatedAt) >= s.cfg.MaxAge {
		return false
	}
	record.LastActivity = now
	return true
}

// Session returns a copy of the live session for username
func (s *SessionService) Session(username string) (models.SessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.sessions[username]
	if !ok {
		return models.SessionRecord{}, false
	}
	return *record, true
}

// ListActive returns summaries of unexpired sessions, most recently started first
func (s *SessionService) ListActive() []models.SessionSummary {
	now := s.clock.Now()

	s.mu.Lock()
	summaries := make([]models.SessionSummary, 0, len(s.sessions))
	for _, record := range s.sessions {
		if now.Sub(record.CreatedAt) >= s.cfg.MaxAge {
			continue
		}
		summaries = append(summaries, record.Summary(now))
	}
	s.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].StartedAt.Equal(summaries[j].StartedAt) {
			return summaries[i].Username < summaries[j].Username
		}
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries
}

// Sweep removes expired sessions and invalidation marks past their TTL
func (s *SessionService) Sweep() (expiredSessions int, expiredMarks int) {
	now := s.clock.Now()

	s.mu.Lock()
	expired := make(map[string]*models.SessionRecord)
	for username, record := range s.sessions {
		if now.Sub(record.CreatedAt) >= s.cfg.MaxAge {
			expired[username] = record
			delete(s.sessions, username)
		}
	}
	for username, mark := range s.marks {
		if now.Sub(mark.MarkedAt) > s.cfg.InvalidationTTL {
			delete(s.marks, username)
			expiredMarks++
		}
	}
	s.mu.Unlock()

	for username, record := range expired {
		s.announceExpired(username, record, now)
	}
	return len(expired), expiredMarks
}

// Stats summarises session state for dashboards
func (s *SessionService) Stats() models.SessionStats {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.SessionStats{
		LoggedInUsernames:  make([]string, 0, len(s.sessions)),
		PendingInvalidated: len(s.marks),
		Terminations:       s.terminations,
	}
	for username, record := range s.sessions {
		if now.Sub(record.CreatedAt) < s.cfg.MaxAge {
			stats.LoggedInUsernames = append(stats.LoggedInUsernames, username)
		}
	}
	sort.Strings(stats.LoggedInUsernames)
	stats.ActiveSessions = len(stats.LoggedInUsernames)
	return stats
}

func (s *SessionService) announceExpired(username string, record *models.SessionRecord, now time.Time) {
	s.metrics.SessionEnded(SessionEndExpired)
	s.logger.Info("session expired", slog.String("username", username))
	s.publisher.Publish(models.NewSecurityEvent(models.EventSessionExpired, username, models.SeverityInfo, now, models.AuditMetadata{
		"started_at": record.CreatedAt,
	}))
}
