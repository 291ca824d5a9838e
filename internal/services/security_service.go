package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/filecoin-project/go-clock"
)

// LoginAttempt is one request entering the admission pipeline
type LoginAttempt struct {
	Username        string
	Password        string
	SourceAddress   string
	ClientSignature string
}

// AuthResult is returned for an admitted and verified login
type AuthResult struct {
	Staff   *models.Staff
	Session models.SessionRecord
}

// SecurityService sequences the lockout and session checks around credential verification
// and exposes the administrative surface.
type SecurityService struct {
	lockout     *LockoutService
	sessions    *SessionService
	credentials CredentialChecker
	publisher   EventPublisher
	metrics     SecurityMetrics
	clock       clock.Clock
	logger      *slog.Logger
}

// NewSecurityService creates the coordinator. lockout and sessions must share clk.
func NewSecurityService(
	lockout *LockoutService,
	sessions *SessionService,
	credentials CredentialChecker,
	publisher EventPublisher,
	metrics SecurityMetrics,
	clk clock.Clock,
	logger *slog.Logger,
) *SecurityService {
	if publisher == nil {
		publisher = discardPublisher{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &SecurityService{
		lockout:     lockout,
		sessions:    sessions,
		credentials: credentials,
		publisher:   publisher,
		metrics:     metrics,
		clock:       clk,
		logger:      logger,
	}
}

// CheckAdmission runs the lockout check and then the session check. The first denial is returned.
func (s *SecurityService) CheckAdmission(username, sourceAddress, clientSignature string) error {
	if err := s.lockout.CheckAdmission(username); err != nil {
		var blocked *models.AccountBlockedError
		if errors.As(err, &blocked) && blocked.Permanent {
			s.metrics.AdmissionDecided(OutcomePermanentBlock)
		} else {
			s.metrics.AdmissionDecided(OutcomeTemporaryBlock)
		}
		return err
	}
	if err := s.sessions.CheckAdmission(username, sourceAddress, clientSignature); err != nil {
		s.metrics.AdmissionDecided(OutcomeSessionConflict)
		return err
	}
	s.metrics.AdmissionDecided(OutcomeAllowed)
	return nil
}

// OnSuccess clears the failure cycle and then creates the session
func (s *SecurityService) OnSuccess(username, sourceAddress, clientSignature string) models.SessionRecord {
	s.lockout.RecordSuccess(username)
	session := s.sessions.CreateSession(username, sourceAddress, clientSignature)
	s.publisher.Publish(models.NewSecurityEvent(models.EventSuccessfulLogin, username, models.SeverityInfo, session.CreatedAt, nil).WithIP(sourceAddress))
	return session
}

// OnFailure records a failed attempt. Live sessions are left alone.
func (s *SecurityService) OnFailure(username, sourceAddress string) FailureOutcome {
	return s.lockout.RecordFailure(username, sourceAddress)
}

// Authenticate runs the whole pipeline: admission, credential check, and recording
func (s *SecurityService) Authenticate(ctx context.Context, attempt LoginAttempt) (*AuthResult, error) {
	if err := s.CheckAdmission(attempt.Username, attempt.SourceAddress, attempt.ClientSignature); err != nil {
		return nil, err
	}

	staff, err := s.credentials.Verify(ctx, attempt.Username, attempt.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			outcome := s.OnFailure(attempt.Username, attempt.SourceAddress)
			s.logger.Warn("login failed",
				slog.String("username", attempt.Username),
				slog.Int("attempt_count", outcome.Count),
				slog.Bool("blocked", outcome.Block != nil))
			return nil, models.ErrInvalidCredentials
		}
		// The credential store failing says nothing about the password
		return nil, fmt.Errorf("credential verification failed: %w", err)
	}

	session := s.OnSuccess(attempt.Username, attempt.SourceAddress, attempt.ClientSignature)
	return &AuthResult{Staff: staff, Session: session}, nil
}

// IsBlocked is the side-effect-free block probe
func (s *SecurityService) IsBlocked(username string) (bool, *models.BlockInfo) {
	return s.lockout.IsBlocked(username)
}

// ManualBlock blocks username and ends its live session
func (s *SecurityService) ManualBlock(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error) {
	result, err := s.lockout.ApplyManualBlock(username, level, blockedBy, reason)
	if err != nil {
		return result, err
	}
	s.sessions.ForceTerminate(username, "account blocked by administrator", blockedBy)
	return result, nil
}

// RevokeBlock resets username and ends its live session
func (s *SecurityService) RevokeBlock(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error) {
	result, err := s.lockout.Revoke(username, revokedBy, scope)
	if err != nil {
		return result, err
	}
	s.sessions.ForceTerminate(username, "security state reset by administrator", revokedBy)
	return result, nil
}

// ForceTerminateSession ends the live session of username on administrative request
func (s *SecurityService) ForceTerminateSession(username, reason, by string) error {
	if reason == "" {
		reason = "terminated by administrator"
	}
	if !s.sessions.ForceTerminate(username, reason, by) {
		return fmt.Errorf("%s: %w", username, models.ErrNoActiveSession)
	}
	return nil
}

// Logout ends the live session of username
func (s *SecurityService) Logout(username string) error {
	if !s.sessions.Terminate(username) {
		return fmt.Errorf("%s: %w", username, models.ErrNoActiveSession)
	}
	return nil
}

// SessionStatus reports whether a client session for username still holds and refreshes its activity.
// Only a caller naming the live session's start time can see it as valid or keep it active.
func (s *SecurityService) SessionStatus(username string, sessionCreatedAt *time.Time) models.SessionStatus {
	invalidated := s.sessions.IsInvalidated(username, sessionCreatedAt)
	valid := false
	if !invalidated && sessionCreatedAt != nil {
		valid = s.sessions.Touch(username, *sessionCreatedAt)
	}
	return models.SessionStatus{Username: username, Valid: valid, Invalidated: invalidated}
}

// ListActiveBlocks returns the active blocks, most recent first
func (s *SecurityService) ListActiveBlocks() []models.BlockInfo {
	return s.lockout.ListActiveBlocks()
}

// ListActiveSessions returns the live sessions, most recent first
func (s *SecurityService) ListActiveSessions() []models.SessionSummary {
	return s.sessions.ListActive()
}

// Stats aggregates lockout, session and operational state
func (s *SecurityService) Stats() models.SecurityStats {
	lockout, ops := s.lockout.Stats()
	lcfg := s.lockout.Config()
	scfg := s.sessions.Config()

	ladder := make([]string, 0, len(lcfg.Ladder)+1)
	for _, d := range lcfg.Ladder {
		ladder = append(ladder, d.String())
	}
	ladder = append(ladder, "permanent")

	return models.SecurityStats{
		Lockout:     lockout,
		Sessions:    s.sessions.Stats(),
		Operational: ops,
		Config: models.ProtectionConfig{
			Threshold:          lcfg.Threshold,
			Ladder:             ladder,
			SessionMaxAge:      scfg.MaxAge.String(),
			DuplicateWindow:    scfg.DuplicateWindow.String(),
			InvalidationTTL:    scfg.InvalidationTTL.String(),
			LedgerCapacity:     lcfg.LedgerCapacity,
			SingleSessionLogin: true,
		},
		GeneratedAt: s.clock.Now().UTC(),
	}
}

// Sweep removes expired sessions and marks, and stale failure cycles when staleFailureTTL is positive
func (s *SecurityService) Sweep(staleFailureTTL time.Duration) SweepResult {
	sessions, marks := s.sessions.Sweep()
	return SweepResult{
		ExpiredSessions: sessions,
		ExpiredMarks:    marks,
		StaleFailures:   s.lockout.SweepStale(staleFailureTTL),
	}
}

// SweepResult counts what a sweep removed
type SweepResult struct {
	ExpiredSessions int
	ExpiredMarks    int
	StaleFailures   int
}
