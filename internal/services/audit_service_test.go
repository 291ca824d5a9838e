package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_AppendPersists(t *testing.T) {
	var stored *models.SecurityEvent
	repo := &MockSecurityEventRepository{CreateFunc: func(ctx context.Context, event *models.SecurityEvent) error {
		stored = event
		return nil
	}}
	svc := NewAuditService(repo, NewTestLogger())

	event := models.NewSecurityEvent(models.EventManualBlock, "bob", models.SeverityCriticalAdmin, time.Now(), models.AuditMetadata{"block_level": 3}).WithActor("admin")
	require.NoError(t, svc.Append(context.Background(), event))

	require.NotNil(t, stored)
	assert.Equal(t, event.ID, stored.ID)
	assert.Equal(t, "admin", *stored.Actor)
}

func TestAuditService_AppendSwallowsRepoError(t *testing.T) {
	repo := &MockSecurityEventRepository{CreateFunc: func(ctx context.Context, event *models.SecurityEvent) error {
		return errors.New("connection reset")
	}}
	svc := NewAuditService(repo, NewTestLogger())

	err := svc.Append(context.Background(), models.NewSecurityEvent(models.EventFailedAttempt, "bob", models.SeverityWarning, time.Now(), nil))
	assert.NoError(t, err)
}

func TestAuditService_WithoutRepo(t *testing.T) {
	svc := NewAuditService(nil, NewTestLogger())

	assert.NoError(t, svc.Append(context.Background(), models.NewSecurityEvent(models.EventSessionCreated, "alice", models.SeverityInfo, time.Now(), nil)))
	events, err := svc.ListEvents(context.Background(), models.SecurityEventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestAuditService_ListEventsClampsLimit(t *testing.T) {
	var got models.SecurityEventFilter
	repo := &MockSecurityEventRepository{ListFunc: func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
		got = filter
		return nil, nil
	}}
	svc := NewAuditService(repo, NewTestLogger())

	_, err := svc.ListEvents(context.Background(), models.SecurityEventFilter{Limit: 10000, EventTypes: []string{models.EventPermanentBlock}})
	require.NoError(t, err)
	assert.Equal(t, 100, got.Limit)
	assert.Equal(t, []string{models.EventPermanentBlock}, got.EventTypes)
}
