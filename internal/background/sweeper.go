package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/warden/internal/services"
	"github.com/filecoin-project/go-clock"
	"github.com/robfig/cron/v3"
)

// SweepTarget is the in-memory protection state swept on each run
type SweepTarget interface {
	Sweep(staleFailureTTL time.Duration) services.SweepResult
}

// EventPruner ages out persisted security events
type EventPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweeperConfig controls the schedule and what each run removes
type SweeperConfig struct {
	Schedule        string        // cron spec or descriptor, e.g. "@every 1m"
	StaleFailureTTL time.Duration // 0 leaves idle failure cycles alone
	EventRetention  time.Duration // 0 keeps security events forever
}

// Sweeper periodically removes expired sessions, stale invalidation marks,
// idle failure cycles and, when retention is set, old security events
type Sweeper struct {
	target SweepTarget
	events EventPruner
	cfg    SweeperConfig
	clock  clock.Clock
	logger *slog.Logger
	cron   *cron.Cron
}

// NewSweeper creates a new sweeper. events may be nil when retention is disabled.
func NewSweeper(cfg SweeperConfig, target SweepTarget, events EventPruner, clk clock.Clock, logger *slog.Logger) (*Sweeper, error) {
	s := &Sweeper{
		target: target,
		events: events,
		cfg:    cfg,
		clock:  clk,
		logger: logger,
	}

	cl := cronLogger{logger: logger}
	s.cron = cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	if _, err := s.cron.AddFunc(cfg.Schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start runs the schedule in its own goroutine
func (s *Sweeper) Start() {
	s.logger.Info("security sweeper started", slog.String("schedule", s.cfg.Schedule))
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("security sweeper stopped")
}

// RunOnce performs a single sweep
func (s *Sweeper) RunOnce(ctx context.Context) {
	result := s.target.Sweep(s.cfg.StaleFailureTTL)
	if result.ExpiredSessions > 0 || result.ExpiredMarks > 0 || result.StaleFailures > 0 {
		s.logger.Info("security state swept",
			slog.Int("expired_sessions", result.ExpiredSessions),
			slog.Int("expired_marks", result.ExpiredMarks),
			slog.Int("stale_failures", result.StaleFailures),
		)
	}

	if s.events == nil || s.cfg.EventRetention <= 0 {
		return
	}

	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := s.clock.Now().Add(-s.cfg.EventRetention)
	rowsDeleted, err := s.events.DeleteOlderThan(pruneCtx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune security events", slog.Any("error", err))
		return
	}

	if rowsDeleted > 0 {
		s.logger.Info("security event retention applied",
			slog.Int64("rows_deleted", rowsDeleted),
			slog.Time("cutoff", cutoff),
		)
	}
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{slog.Any("error", err)}, keysAndValues...)...)
}
