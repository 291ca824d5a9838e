package services

import (
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultLedgerCapacity bounds the number of usernames tracked when no capacity is configured
const DefaultLedgerCapacity = 100000

// AttemptLedger holds the failure cycle of each username.
// It is not safe for concurrent use; LockoutService serializes access under its own lock.
// Usernames are attacker-controlled, so the ledger is bounded and evicts the least recently failed entry.
type AttemptLedger struct {
	entries *simplelru.LRU[string, *models.FailureRecord]
	evicted int64
}

// NewAttemptLedger creates a ledger holding at most capacity usernames
func NewAttemptLedger(capacity int) (*AttemptLedger, error) {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	l := &AttemptLedger{}
	entries, err := simplelru.NewLRU[string, *models.FailureRecord](capacity, func(string, *models.FailureRecord) {
		l.evicted++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create attempt ledger: %w", err)
	}
	l.entries = entries
	return l, nil
}

// Append records a failure for username and returns the resulting cycle length
func (l *AttemptLedger) Append(username string, at time.Time) int {
	record, ok := l.entries.Get(username)
	if !ok {
		record = &models.FailureRecord{Username: username}
		l.entries.Add(username, record)
	}
	record.Failures = append(record.Failures, at)
	return len(record.Failures)
}

// Count returns the cycle length for username without touching recency
func (l *AttemptLedger) Count(username string) int {
	record, ok := l.entries.Peek(username)
	if !ok {
		return 0
	}
	return record.Count()
}

// Clear drops the whole cycle for username
func (l *AttemptLedger) Clear(username string) {
	l.entries.Remove(username)
}

// Len returns the number of usernames with a non-empty cycle
func (l *AttemptLedger) Len() int {
	return l.entries.Len()
}

// Evicted returns how many usernames were dropped to stay within capacity
func (l *AttemptLedger) Evicted() int64 {
	return l.evicted
}

// Total returns the number of failures across all cycles
func (l *AttemptLedger) Total() int {
	total := 0
	for _, record := range l.entries.Values() {
		total += record.Count()
	}
	return total
}

// SweepBefore drops cycles whose last failure is older than cutoff.
// Usernames for which keep returns true are left alone.
func (l *AttemptLedger) SweepBefore(cutoff time.Time, keep func(username string) bool) int {
	removed := 0
	for _, username := range l.entries.Keys() {
		record, ok := l.entries.Peek(username)
		if !ok || !record.LastFailure().Before(cutoff) {
			continue
		}
		if keep != nil && keep(username) {
			continue
		}
		l.entries.Remove(username)
		removed++
	}
	return removed
}
