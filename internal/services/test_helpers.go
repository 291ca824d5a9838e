package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

// MockStaffRepository implements StaffRepository for testing
type MockStaffRepository struct {
	GetByUsernameFunc func(ctx context.Context, username string) (*models.Staff, error)
}

func (m *MockStaffRepository) GetByUsername(ctx context.Context, username string) (*models.Staff, error) {
	if m.GetByUsernameFunc != nil {
		return m.GetByUsernameFunc(ctx, username)
	}
	return nil, models.ErrNotFound
}

// MockCredentialChecker implements CredentialChecker for testing
type MockCredentialChecker struct {
	VerifyFunc func(ctx context.Context, username, password string) (*models.Staff, error)
}

func (m *MockCredentialChecker) Verify(ctx context.Context, username, password string) (*models.Staff, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, username, password)
	}
	return nil, models.ErrInvalidCredentials
}

// MockSecurityEventRepository implements SecurityEventRepository for testing
type MockSecurityEventRepository struct {
	CreateFunc func(ctx context.Context, event *models.SecurityEvent) error
	ListFunc   func(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error)
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	return nil
}

func (m *MockSecurityEventRepository) List(ctx context.Context, filter models.SecurityEventFilter) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return []*models.SecurityEvent{}, nil
}

// MockAuditSink implements AuditSink for testing
type MockAuditSink struct {
	AppendFunc func(ctx context.Context, event models.SecurityEvent) error
}

func (m *MockAuditSink) Append(ctx context.Context, event models.SecurityEvent) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, event)
	}
	return nil
}

// MockNotifier implements Notifier for testing
type MockNotifier struct {
	NotifyFunc func(ctx context.Context, alertType string, payload map[string]any) error
}

func (m *MockNotifier) Notify(ctx context.Context, alertType string, payload map[string]any) error {
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, alertType, payload)
	}
	return nil
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.SendEmailFunc != nil {
		return m.SendEmailFunc(ctx, params, optFns...)
	}
	return &ses.SendEmailOutput{}, nil
}

// RecordingPublisher implements EventPublisher and keeps everything it receives
type RecordingPublisher struct {
	mu     sync.Mutex
	events []models.SecurityEvent
	alerts []RecordedAlert
}

// RecordedAlert is one alert captured by RecordingPublisher
type RecordedAlert struct {
	Type    string
	Payload map[string]any
}

func (p *RecordingPublisher) Publish(event models.SecurityEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *RecordingPublisher) Alert(alertType string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, RecordedAlert{Type: alertType, Payload: payload})
}

// EventTypes returns the types of all published events in order
func (p *RecordingPublisher) EventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}

// EventsOfType returns the published events of one type
func (p *RecordingPublisher) EventsOfType(eventType string) []models.SecurityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.SecurityEvent
	for _, e := range p.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AlertsOfType returns the alerts of one type
func (p *RecordingPublisher) AlertsOfType(alertType string) []RecordedAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []RecordedAlert
	for _, a := range p.alerts {
		if a.Type == alertType {
			out = append(out, a)
		}
	}
	return out
}

// RecordingMetrics implements SecurityMetrics with plain counters
type RecordingMetrics struct {
	mu         sync.Mutex
	Admissions map[string]int
	Failures   int
	Blocks     map[string]int
	Ended      map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		Admissions: make(map[string]int),
		Blocks:     make(map[string]int),
		Ended:      make(map[string]int),
	}
}

func (m *RecordingMetrics) AdmissionDecided(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Admissions[outcome]++
}

func (m *RecordingMetrics) FailureRecorded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures++
}

func (m *RecordingMetrics) BlockApplied(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocks[kind]++
}

func (m *RecordingMetrics) SessionEnded(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ended[reason]++
}

// NewTestLogger returns a logger that discards output
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// NewTestStaff creates an active staff account
func NewTestStaff(id, username, role, passwordHash string) *models.Staff {
	now := time.Now()
	return &models.Staff{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
