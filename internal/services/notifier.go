package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// NoopNotifier discards alerts
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, map[string]any) error { return nil }

// SESClient is the subset of the SES client used for alert delivery
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails alerts to a fixed list of operators using AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier creates an SES notifier using the default AWS credential chain
func NewSESNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

// NewSESNotifierWithClient creates an SES notifier over an existing client
func NewSESNotifierWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// Notify sends one email per alert to all recipients
func (n *SESNotifier) Notify(ctx context.Context, alertType string, payload map[string]any) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject, body := renderAlert(alertType, payload)
	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}

	messageID := ""
	if result != nil && result.MessageId != nil {
		messageID = *result.MessageId
	}
	n.logger.Info("security alert sent",
		slog.String("alert_type", alertType),
		slog.String("message_id", messageID))

	return nil
}

func renderAlert(alertType string, payload map[string]any) (string, string) {
	username, _ := payload["username"].(string)

	var subject string
	switch alertType {
	case models.AlertAccountLockout:
		subject = fmt.Sprintf("Account locked: %s", username)
	case models.AlertSessionTerminated:
		subject = fmt.Sprintf("Session terminated: %s", username)
	case models.AlertFailedLogin:
		subject = fmt.Sprintf("Failed login: %s", username)
	default:
		subject = fmt.Sprintf("Security alert: %s", alertType)
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Security alert: %s\n\n", alertType)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, payload[k])
	}
	b.WriteString("\nThis is an automated message. Please do not reply to this email.\n")
	return subject, b.String()
}
