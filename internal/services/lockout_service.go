package services

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/filecoin-project/go-clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultLockoutLadder is the block duration applied at each escalation level.
// Reaching a level past the end of the ladder converts to a permanent block.
var DefaultLockoutLadder = []time.Duration{
	1 * time.Minute,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
}

const (
	DefaultLockoutThreshold   = 5
	defaultAddressHistorySize = 20
)

// LockoutConfig holds the escalation policy
type LockoutConfig struct {
	Threshold          int
	Ladder             []time.Duration
	LedgerCapacity     int
	AddressHistorySize int
}

// DefaultLockoutConfig returns the standard five-failure, five-rung policy
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		Threshold:          DefaultLockoutThreshold,
		Ladder:             append([]time.Duration(nil), DefaultLockoutLadder...),
		LedgerCapacity:     DefaultLedgerCapacity,
		AddressHistorySize: defaultAddressHistorySize,
	}
}

// FailureOutcome describes what a recorded failure did
type FailureOutcome struct {
	Count int
	Block *models.BlockState
}

// LockoutService decides admission against account blocks and escalates lockouts on repeated failure.
// All state is guarded by one mutex.
type LockoutService struct {
	mu        sync.Mutex
	cfg       LockoutConfig
	clock     clock.Clock
	ledger    *AttemptLedger
	blocks    map[string]models.BlockState
	levels    map[string]int
	addresses *simplelru.LRU[string, []models.AddressSighting]

	publisher EventPublisher
	metrics   SecurityMetrics
	logger    *slog.Logger
}

// NewLockoutService creates a LockoutService. publisher and metrics may be nil.
func NewLockoutService(cfg LockoutConfig, clk clock.Clock, publisher EventPublisher, metrics SecurityMetrics, logger *slog.Logger) (*LockoutService, error) {
	if cfg.Threshold < 1 {
		return nil, fmt.Errorf("lockout threshold must be at least 1, got %d", cfg.Threshold)
	}
	if len(cfg.Ladder) == 0 {
		return nil, fmt.Errorf("lockout ladder must have at least one duration")
	}
	if cfg.AddressHistorySize <= 0 {
		cfg.AddressHistorySize = defaultAddressHistorySize
	}

	ledger, err := NewAttemptLedger(cfg.LedgerCapacity)
	if err != nil {
		return nil, err
	}
	capacity := cfg.LedgerCapacity
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	addresses, err := simplelru.NewLRU[string, []models.AddressSighting](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create address history: %w", err)
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

	return &LockoutService{
		cfg:       cfg,
		clock:     clk,
		ledger:    ledger,
		blocks:    make(map[string]models.BlockState),
		levels:    make(map[string]int),
		addresses: addresses,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// Config returns the active policy
func (s *LockoutService) Config() LockoutConfig {
	return s.cfg
}

// CheckAdmission returns nil if username may attempt a login, or an *models.AccountBlockedError.
// An expired temporary block is cleared here together with the failure cycle and escalation level.
func (s *LockoutService) CheckAdmission(username string) error {
	now := s.clock.Now()

	s.mu.Lock()
	state, ok := s.blocks[username]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	switch state.Kind {
	case models.PermanentBlock:
		s.mu.Unlock()
		return &models.AccountBlockedError{
			Username:     username,
			Permanent:    true,
			BlockLevel:   displayLevel(state),
			BlockedSince: state.Since,
		}
	case models.TemporaryBlock:
		if now.Before(state.UnblockAt) {
			s.mu.Unlock()
			retry := ceilSeconds(state.UnblockAt.Sub(now))
			return &models.AccountBlockedError{
				Username:         username,
				RetryAfter:       retry,
				RemainingMinutes: remainingMinutes(retry),
				BlockLevel:       state.Level,
				BlockedSince:     state.Since,
				UnblockAt:        state.UnblockAt,
			}
		}
	}

	delete(s.blocks, username)
	delete(s.levels, username)
	s.ledger.Clear(username)
	s.mu.Unlock()

	s.logger.Info("temporary block expired", slog.String("username", username))
	s.publisher.Publish(models.NewSecurityEvent(models.EventBlockExpired, username, models.SeverityInfo, now, models.AuditMetadata{
		"block_level": state.Level,
		"unblock_at":  state.UnblockAt,
	}))
	return nil
}

// RecordFailure appends a failure for username and applies the next block once the cycle reaches the threshold.
// The cycle is not cleared when a block is applied.
func (s *LockoutService) RecordFailure(username, sourceAddress string) FailureOutcome {
	now := s.clock.Now()

	s.mu.Lock()
	count := s.ledger.Append(username, now)
	s.rememberAddress(username, sourceAddress, now)

	outcome := FailureOutcome{Count: count}
	current := s.blocks[username]
	if count >= s.cfg.Threshold && !current.Active(now) {
		next := s.nextBlock(username, now)
		s.blocks[username] = next
		outcome.Block = &next
	}
	s.mu.Unlock()

	s.metrics.FailureRecorded()
	s.publisher.Publish(models.NewSecurityEvent(models.EventFailedAttempt, username, models.SeverityWarning, now, models.AuditMetadata{
		"attempt_count": count,
		"threshold":     s.cfg.Threshold,
	}).WithIP(sourceAddress))
	s.publisher.Alert(models.AlertFailedLogin, map[string]any{
		"username":      username,
		"ip_address":    sourceAddress,
		"attempt_count": count,
		"remaining":     max(0, s.cfg.Threshold-count),
		"timestamp":     now.UTC().Format(time.RFC3339),
	})

	if outcome.Block != nil {
		s.announceBlock(username, *outcome.Block, count, false, "", "")
	}
	return outcome
}

// nextBlock computes the block for the current escalation level. Callers hold s.mu.
func (s *LockoutService) nextBlock(username string, now time.Time) models.BlockState {
	level := s.levels[username]
	if level >= len(s.cfg.Ladder) {
		return models.BlockState{Kind: models.PermanentBlock, Since: now, Level: models.PermanentBlockLevel}
	}
	s.levels[username] = level + 1
	return models.BlockState{
		Kind:      models.TemporaryBlock,
		UnblockAt: now.Add(s.cfg.Ladder[level]),
		Since:     now,
		Level:     level + 1,
	}
}

func (s *LockoutService) rememberAddress(username, sourceAddress string, now time.Time) {
	if sourceAddress == "" {
		return
	}
	history, _ := s.addresses.Get(username)
	history = append(history, models.AddressSighting{SourceAddress: sourceAddress, SeenAt: now})
	if len(history) > s.cfg.AddressHistorySize {
		history = history[len(history)-s.cfg.AddressHistorySize:]
	}
	s.addresses.Add(username, history)
}

func (s *LockoutService) announceBlock(username string, state models.BlockState, count int, manual bool, by, reason string) {
	eventType := models.EventTemporaryBlock
	if state.Kind == models.PermanentBlock {
		eventType = models.EventPermanentBlock
	}
	s.metrics.BlockApplied(state.Kind.String())

	metadata := models.AuditMetadata{
		"block_level": state.Level,
		"block_type":  state.Kind.String(),
		"manual":      manual,
	}
	alert := map[string]any{
		"username":    username,
		"block_level": displayLevel(state),
		"block_type":  state.Kind.String(),
	}
	if state.Kind == models.TemporaryBlock {
		minutes := int(state.UnblockAt.Sub(state.Since) / time.Minute)
		metadata["duration_minutes"] = minutes
		metadata["unblock_at"] = state.UnblockAt
		alert["duration_minutes"] = minutes
	}
	if count > 0 {
		metadata["attempt_count"] = count
	}
	if reason != "" {
		metadata["reason"] = reason
	}

	severity := models.SeverityWarning
	if manual {
		eventType = models.EventManualBlock
		severity = models.SeverityCriticalAdmin
	}

	s.logger.Warn("account blocked",
		slog.String("username", username),
		slog.String("block_type", state.Kind.String()),
		slog.Int("block_level", state.Level),
		slog.Bool("manual", manual))
	s.publisher.Publish(models.NewSecurityEvent(eventType, username, severity, state.Since, metadata).WithActor(by))
	s.publisher.Alert(models.AlertAccountLockout, alert)
}

// RecordSuccess clears the failure cycle. The escalation level is kept.
func (s *LockoutService) RecordSuccess(username string) {
	s.mu.Lock()
	s.ledger.Clear(username)
	s.mu.Unlock()
}

// Revoke fully resets username: block, failure cycle, escalation level and address history.
// Every scope performs the same reset. A narrower scope only changes the reported block type
// and message.
func (s *LockoutService) Revoke(username, revokedBy string, scope models.RevokeScope) (models.RevokeResult, error) {
	now := s.clock.Now()

	s.mu.Lock()
	state := s.blocks[username]
	wasBlocked := state.Active(now)
	priorLevel := s.levels[username]
	priorFailures := s.ledger.Count(username)
	delete(s.blocks, username)
	delete(s.levels, username)
	s.ledger.Clear(username)
	s.addresses.Remove(username)
	s.mu.Unlock()

	blockType := "clean_reset"
	message := fmt.Sprintf("%s was not blocked; security state fully reset", username)
	if wasBlocked {
		blockType = state.Kind.String()
		message = fmt.Sprintf("%s block removed and %s fully reset", capitalize(blockType), username)
	}
	if kind, narrowed := scopeKind(scope); narrowed {
		blockType = kind.String()
		message = fmt.Sprintf("%s block successfully revoked for user '%s'", capitalize(blockType), username)
	}

	s.logger.Warn("account security state reset",
		slog.String("username", username),
		slog.String("revoked_by", revokedBy),
		slog.Bool("was_blocked", wasBlocked))
	s.publisher.Publish(models.NewSecurityEvent(models.EventBlockRevoked, username, models.SeverityCriticalAdmin, now, models.AuditMetadata{
		"was_blocked":      wasBlocked,
		"block_type":       blockType,
		"scope":            string(scope),
		"prior_level":      priorLevel,
		"cleared_failures": priorFailures,
	}).WithActor(revokedBy))

	return models.RevokeResult{
		Success:       true,
		Message:       message,
		Username:      username,
		BlockType:     blockType,
		WasBlocked:    wasBlocked,
		RevokedBy:     revokedBy,
		RevokedAt:     now,
		CompleteReset: true,
	}, nil
}

func scopeKind(scope models.RevokeScope) (models.BlockKind, bool) {
	switch scope {
	case models.RevokeTemporary:
		return models.TemporaryBlock, true
	case models.RevokePermanent:
		return models.PermanentBlock, true
	default:
		return models.Unblocked, false
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ApplyManualBlock blocks username at level 1..7. Levels past the end of the ladder are permanent.
// It fails with models.ErrAlreadyBlocked if a block is active.
func (s *LockoutService) ApplyManualBlock(username string, level int, blockedBy, reason string) (models.ManualBlockResult, error) {
	if level < models.MinManualBlockLevel || level > models.MaxManualBlockLevel {
		return models.ManualBlockResult{}, &models.ValidationError{
			Field:   "block_level",
			Message: fmt.Sprintf("must be between %d and %d", models.MinManualBlockLevel, models.MaxManualBlockLevel),
		}
	}
	if reason == "" {
		reason = "Manual block by administrator"
	}

	now := s.clock.Now()

	s.mu.Lock()
	if current, ok := s.blocks[username]; ok && current.Active(now) {
		s.mu.Unlock()
		return models.ManualBlockResult{}, fmt.Errorf("%s: %w", username, models.ErrAlreadyBlocked)
	}

	state := models.BlockState{Since: now, Level: level, Manual: true}
	if level >= models.PermanentBlockLevel || level > len(s.cfg.Ladder) {
		state.Kind = models.PermanentBlock
	} else {
		state.Kind = models.TemporaryBlock
		state.UnblockAt = now.Add(s.cfg.Ladder[level-1])
	}
	s.blocks[username] = state
	s.levels[username] = level
	s.ledger.Clear(username)
	s.mu.Unlock()

	s.announceBlock(username, state, 0, true, blockedBy, reason)

	result := models.ManualBlockResult{
		Success:    true,
		Username:   username,
		BlockLevel: level,
		BlockType:  state.Kind.String(),
		BlockedBy:  blockedBy,
		BlockedAt:  now,
		Reason:     reason,
	}
	if state.Kind == models.TemporaryBlock {
		unblockAt := state.UnblockAt
		result.UnblockAt = &unblockAt
		result.Message = fmt.Sprintf("%s blocked for %s", username, s.cfg.Ladder[level-1])
	} else {
		result.Message = fmt.Sprintf("%s permanently blocked", username)
	}
	return result, nil
}

// IsBlocked reports the block on username without changing any state, including expired blocks
func (s *LockoutService) IsBlocked(username string) (bool, *models.BlockInfo) {
	now := s.clock.Now()

	s.mu.Lock()
	state, ok := s.blocks[username]
	s.mu.Unlock()

	if !ok || !state.Active(now) {
		return false, nil
	}
	info := blockInfo(username, state, now)
	return true, &info
}

// ListActiveBlocks returns every active block, most recently applied first
func (s *LockoutService) ListActiveBlocks() []models.BlockInfo {
	now := s.clock.Now()

	s.mu.Lock()
	type entry struct {
		username string
		state    models.BlockState
	}
	active := make([]entry, 0, len(s.blocks))
	for username, state := range s.blocks {
		if state.Active(now) {
			active = append(active, entry{username, state})
		}
	}
	s.mu.Unlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].state.Since.Equal(active[j].state.Since) {
			return active[i].username < active[j].username
		}
		return active[i].state.Since.After(active[j].state.Since)
	})

	infos := make([]models.BlockInfo, 0, len(active))
	for _, e := range active {
		infos = append(infos, blockInfo(e.username, e.state, now))
	}
	return infos
}

// AddressHistory returns the source addresses seen on failures for username, oldest first
func (s *LockoutService) AddressHistory(username string) []models.AddressSighting {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.addresses.Peek(username)
	if !ok {
		return nil
	}
	return append([]models.AddressSighting(nil), history...)
}

// FailureCount returns the length of the current failure cycle
func (s *LockoutService) FailureCount(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Count(username)
}

// EscalationLevel returns how many automatic ladder rungs username has consumed
func (s *LockoutService) EscalationLevel(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[username]
}

// Stats summarises lockout state for dashboards
func (s *LockoutService) Stats() (models.LockoutStats, models.OperationalStats) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	lockout := models.LockoutStats{
		UsersWithFailures: s.ledger.Len(),
		MonitoredAccounts: s.addresses.Len(),
		EscalationLevels:  make(map[string]int, len(s.levels)),
	}
	for _, state := range s.blocks {
		if !state.Active(now) {
			continue
		}
		switch state.Kind {
		case models.TemporaryBlock:
			lockout.TemporaryBlocks++
		case models.PermanentBlock:
			lockout.PermanentBlocks++
		}
	}
	lockout.TotalBlocked = lockout.TemporaryBlocks + lockout.PermanentBlocks
	for username, level := range s.levels {
		lockout.EscalationLevels[username] = level
	}

	ops := models.OperationalStats{TotalFailuresTracked: s.ledger.Total()}
	if lockout.UsersWithFailures > 0 {
		ops.AverageFailuresPerUser = float64(ops.TotalFailuresTracked) / float64(lockout.UsersWithFailures)
	}
	return lockout, ops
}

// SweepStale drops failure cycles idle for longer than maxAge on accounts that are not blocked.
// Blocks and escalation levels are never swept.
func (s *LockoutService) SweepStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	now := s.clock.Now()

	s.mu.Lock()
	removed := s.ledger.SweepBefore(now.Add(-maxAge), func(username string) bool {
		_, blocked := s.blocks[username]
		return blocked
	})
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("stale failure cycles swept", slog.Int("removed", removed))
	}
	return removed
}

func blockInfo(username string, state models.BlockState, now time.Time) models.BlockInfo {
	info := models.BlockInfo{
		Username:   username,
		Type:       state.Kind.String(),
		BlockLevel: displayLevel(state),
		CanRevoke:  true,
	}
	switch state.Kind {
	case models.PermanentBlock:
		since := state.Since
		info.BlockedSince = &since
		info.Status = models.BlockStatusPermanent
	case models.TemporaryBlock:
		unblockAt := state.UnblockAt
		info.UnblockTime = &unblockAt
		if now.Before(unblockAt) {
			remaining := ceilSeconds(unblockAt.Sub(now))
			info.RemainingSeconds = int(remaining / time.Second)
			info.RemainingMinutes = remainingMinutes(remaining)
			info.Status = models.BlockStatusActiveTemporary
		} else {
			info.Status = models.BlockStatusExpired
		}
	}
	return info
}

func displayLevel(state models.BlockState) int {
	if state.Kind == models.PermanentBlock && state.Level == 0 {
		return models.PermanentBlockLevel
	}
	return state.Level
}

func ceilSeconds(d time.Duration) time.Duration {
	return time.Duration(math.Ceil(d.Seconds())) * time.Second
}

func remainingMinutes(d time.Duration) int {
	return max(1, int(math.Ceil(d.Minutes())))
}
