package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/filecoin-project/go-clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type securityFixture struct {
	svc      *SecurityService
	lockout  *LockoutService
	sessions *SessionService
	clock    *clock.Mock
	pub      *RecordingPublisher
	metrics  *RecordingMetrics
}

func newSecurityFixture(t *testing.T, checker CredentialChecker) *securityFixture {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(testEpoch)
	pub := &RecordingPublisher{}
	metrics := NewRecordingMetrics()
	logger := NewTestLogger()

	lockout, err := NewLockoutService(DefaultLockoutConfig(), clk, pub, metrics, logger)
	require.NoError(t, err)
	sessions := NewSessionService(DefaultSessionConfig(), clk, pub, metrics, logger)

	return &securityFixture{
		svc:      NewSecurityService(lockout, sessions, checker, pub, metrics, clk, logger),
		lockout:  lockout,
		sessions: sessions,
		clock:    clk,
		pub:      pub,
		metrics:  metrics,
	}
}

func passwordChecker(password string) *MockCredentialChecker {
	return &MockCredentialChecker{
		VerifyFunc: func(ctx context.Context, username, pw string) (*models.Staff, error) {
			if pw != password {
				return nil, models.ErrInvalidCredentials
			}
			return NewTestStaff("id-"+username, username, "staff", ""), nil
		},
	}
}

func attempt(username, password string) LoginAttempt {
	return LoginAttempt{Username: username, Password: password, SourceAddress: testIP, ClientSignature: testUA}
}

func TestSecurityService_AuthenticateSuccess(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	ctx := context.Background()

	f.svc.OnFailure("alice", testIP)
	result, err := f.svc.Authenticate(ctx, attempt("alice", "correct"))

	require.NoError(t, err)
	assert.Equal(t, "id-alice", result.Staff.ID)
	assert.Equal(t, testEpoch, result.Session.CreatedAt)
	assert.Equal(t, 0, f.lockout.FailureCount("alice"), "success clears the ledger before the session exists")
	_, ok := f.sessions.Session("alice")
	assert.True(t, ok)
	assert.Len(t, f.pub.EventsOfType(models.EventSuccessfulLogin), 1)
	assert.Equal(t, 1, f.metrics.Admissions[OutcomeAllowed])
}

func TestSecurityService_AuthenticateFailureBlocksOnFifth(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Authenticate(ctx, attempt("bob", "wrong"))
		assert.ErrorIs(t, err, models.ErrInvalidCredentials, "attempt %d", i+1)
	}

	_, err := f.svc.Authenticate(ctx, attempt("bob", "correct"))
	var blocked *models.AccountBlockedError
	require.True(t, errors.As(err, &blocked))
	assert.Equal(t, 60*time.Second, blocked.RetryAfter)
	assert.Equal(t, 1, f.metrics.Admissions[OutcomeTemporaryBlock])
	assert.Equal(t, 5, f.metrics.Failures)
}

func TestSecurityService_BlockHidesSessionConflict(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	f.svc.OnSuccess("dave", testIP, testUA)
	_, err := f.lockout.ApplyManualBlock("dave", 2, "admin", "")
	require.NoError(t, err)

	err = f.svc.CheckAdmission("dave", "10.0.0.99", "other device")
	assert.ErrorIs(t, err, models.ErrAccountTemporarilyBlocked)
	assert.NotErrorIs(t, err, models.ErrSessionConflict)
}

func TestSecurityService_SessionConflict(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	ctx := context.Background()

	_, err := f.svc.Authenticate(ctx, attempt("alice", "correct"))
	require.NoError(t, err)

	f.clock.Add(time.Minute)
	_, err = f.svc.Authenticate(ctx, LoginAttempt{Username: "alice", Password: "correct", SourceAddress: "10.1.1.1", ClientSignature: testUA})

	var conflict *models.SessionConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, testIP, conflict.Existing.SourceAddress)
	assert.Equal(t, 1, f.metrics.Admissions[OutcomeSessionConflict])
}

func TestSecurityService_FailureLeavesLiveSession(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	f.svc.OnSuccess("alice", testIP, testUA)
	for i := 0; i < 5; i++ {
		f.svc.OnFailure("alice", "10.6.6.6")
	}

	_, ok := f.sessions.Session("alice")
	assert.True(t, ok)
	assert.False(t, f.sessions.IsInvalidated("alice", nil))
}

func TestSecurityService_StoreErrorIsNotAFailure(t *testing.T) {
	storeDown := errors.New("connection refused")
	f := newSecurityFixture(t, &MockCredentialChecker{
		VerifyFunc: func(ctx context.Context, username, password string) (*models.Staff, error) {
			return nil, storeDown
		},
	})

	_, err := f.svc.Authenticate(context.Background(), attempt("alice", "x"))
	assert.ErrorIs(t, err, storeDown)
	assert.NotErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, 0, f.lockout.FailureCount("alice"))
}

func TestSecurityService_ManualBlockTerminatesSession(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	f.svc.OnSuccess("erin", testIP, testUA)

	result, err := f.svc.ManualBlock("erin", 7, "admin", "policy violation")
	require.NoError(t, err)
	assert.Equal(t, "permanent", result.BlockType)

	_, ok := f.sessions.Session("erin")
	assert.False(t, ok)
	assert.True(t, f.sessions.IsInvalidated("erin", nil))

	_, err = f.svc.ManualBlock("erin", 3, "admin", "")
	assert.ErrorIs(t, err, models.ErrAlreadyBlocked)
}

func TestSecurityService_RevokeBlockTerminatesSession(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	f.svc.OnSuccess("erin", testIP, testUA)
	for i := 0; i < 5; i++ {
		f.svc.OnFailure("erin", testIP)
	}

	result, err := f.svc.RevokeBlock("erin", "admin", models.RevokeAll)
	require.NoError(t, err)
	assert.True(t, result.WasBlocked)

	_, ok := f.sessions.Session("erin")
	assert.False(t, ok)
	assert.True(t, f.sessions.IsInvalidated("erin", nil))
	assert.NoError(t, f.svc.CheckAdmission("erin", testIP, testUA))
}

func TestSecurityService_RevokeScopedResetsUnblockedUser(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	f.svc.OnSuccess("erin", testIP, testUA)
	f.svc.OnFailure("erin", testIP)

	result, err := f.svc.RevokeBlock("erin", "admin", models.RevokeTemporary)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.WasBlocked)
	assert.Equal(t, "temporary", result.BlockType)

	_, ok := f.sessions.Session("erin")
	assert.False(t, ok)
	assert.Equal(t, 0, f.lockout.FailureCount("erin"))
}

func TestSecurityService_LogoutAndForceTerminate(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	assert.ErrorIs(t, f.svc.Logout("alice"), models.ErrNoActiveSession)
	assert.ErrorIs(t, f.svc.ForceTerminateSession("alice", "", "admin"), models.ErrNoActiveSession)

	f.svc.OnSuccess("alice", testIP, testUA)
	assert.NoError(t, f.svc.Logout("alice"))

	f.svc.OnSuccess("alice", testIP, testUA)
	assert.NoError(t, f.svc.ForceTerminateSession("alice", "", "admin"))
	forced := f.pub.EventsOfType(models.EventSessionForceEnded)
	require.Len(t, forced, 1)
	assert.Equal(t, "terminated by administrator", forced[0].Metadata["reason"])
}

func TestSecurityService_SessionStatus(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	status := f.svc.SessionStatus("alice", nil)
	assert.False(t, status.Valid)
	assert.False(t, status.Invalidated)

	session := f.svc.OnSuccess("alice", testIP, testUA)
	f.clock.Add(time.Minute)
	status = f.svc.SessionStatus("alice", nil)
	assert.False(t, status.Valid, "a caller without the start time does not see the session")
	record, _ := f.sessions.Session("alice")
	assert.Equal(t, session.CreatedAt, record.LastActivity, "a caller without the start time does not refresh activity")

	status = f.svc.SessionStatus("alice", &session.CreatedAt)
	assert.True(t, status.Valid)
	record, _ = f.sessions.Session("alice")
	assert.Equal(t, f.clock.Now(), record.LastActivity)

	require.NoError(t, f.svc.ForceTerminateSession("alice", "admin action", "admin"))
	status = f.svc.SessionStatus("alice", &session.CreatedAt)
	assert.False(t, status.Valid)
	assert.True(t, status.Invalidated)

	f.clock.Add(31 * time.Second)
	status = f.svc.SessionStatus("alice", &session.CreatedAt)
	assert.False(t, status.Invalidated)
	assert.False(t, status.Valid)
}

func TestSecurityService_Stats(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	f.svc.OnSuccess("alice", testIP, testUA)
	for i := 0; i < 5; i++ {
		f.svc.OnFailure("bob", testIP)
	}

	stats := f.svc.Stats()
	assert.Equal(t, 1, stats.Lockout.TemporaryBlocks)
	assert.Equal(t, 1, stats.Sessions.ActiveSessions)
	assert.Equal(t, []string{"alice"}, stats.Sessions.LoggedInUsernames)
	assert.Equal(t, 5, stats.Operational.TotalFailuresTracked)
	assert.Equal(t, 5, stats.Config.Threshold)
	assert.Equal(t, []string{"1m0s", "2m0s", "10m0s", "30m0s", "1h0m0s", "permanent"}, stats.Config.Ladder)
	assert.Equal(t, "8h0m0s", stats.Config.SessionMaxAge)
	assert.Equal(t, testEpoch, stats.GeneratedAt)
}

func TestSecurityService_Sweep(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))

	f.svc.OnSuccess("alice", testIP, testUA)
	f.svc.OnFailure("idle", testIP)
	f.clock.Add(9 * time.Hour)

	result := f.svc.Sweep(time.Hour)
	assert.Equal(t, 1, result.ExpiredSessions)
	assert.Equal(t, 1, result.StaleFailures)
}

func TestSecurityService_Dashboards(t *testing.T) {
	f := newSecurityFixture(t, passwordChecker("correct"))
	f.svc.OnSuccess("alice", testIP, testUA)
	_, err := f.svc.ManualBlock("bob", 1, "admin", "")
	require.NoError(t, err)

	assert.Len(t, f.svc.ListActiveSessions(), 1)
	blocks := f.svc.ListActiveBlocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, "bob", blocks[0].Username)

	blocked, info := f.svc.IsBlocked("bob")
	assert.True(t, blocked)
	assert.Equal(t, 1, info.BlockLevel)
}
