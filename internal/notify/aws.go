// internal/notify/aws.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-workers/internal/common/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
)

var ErrNoRecipients = errors.New("notification has no recipients")

// Define interfaces for mocking
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds the delivery settings for the AWS-backed gateway.
type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	// StaffNumbers receive an SMS copy of out-of-stock alerts.
	StaffNumbers []string
}

// AWSGateway sends email through SES, with an SMS copy through SNS for
// out-of-stock staff alerts. Accepted dispatches are indexed into the
// notification history best-effort.
type AWSGateway struct {
	config    *Config
	sesClient SESService
	snsClient SNSService
	history   *HistoryIndexer
	logger    logger.Logger
}

func NewAWSGateway(config *Config, sesClient SESService, snsClient SNSService, history *HistoryIndexer, log logger.Logger) *AWSGateway {
	return &AWSGateway{
		config:    config,
		sesClient: sesClient,
		snsClient: snsClient,
		history:   history,
		logger:    log.WithFields(map[string]interface{}{"component": "notify-gateway"}),
	}
}

func (g *AWSGateway) Send(ctx context.Context, n Notification) error {
	if len(n.Recipients) == 0 {
		return ErrNoRecipients
	}

	template, exists := templates[n.Template]
	if !exists {
		return fmt.Errorf("template not found: %s", n.Template)
	}

	subject := renderTemplate(template.Subject, n.Data)
	body := renderTemplate(template.Body, n.Data)

	if g.config.EmailEnabled {
		if err := g.sendEmail(ctx, n.Recipients, subject, body); err != nil {
			return fmt.Errorf("send %s email: %w", n.Template, err)
		}
	}

	// Staff SMS copy only for out-of-stock alerts
	if g.config.SMSEnabled && n.Template == TemplateOutOfStock {
		for _, number := range g.config.StaffNumbers {
			if err := g.sendSMS(ctx, number, body); err != nil {
				g.logger.Error("SMS send failed", map[string]interface{}{
					"error": err.Error(),
					"phone": number,
				})
			}
		}
	}

	notificationID := uuid.New().String()
	if g.history != nil {
		g.history.Index(ctx, HistoryRecord{
			ID:         notificationID,
			TenantID:   n.TenantID,
			Template:   n.Template,
			Recipients: n.Recipients,
			Data:       n.Data,
			SentAt:     time.Now().UTC().Format(time.RFC3339),
		})
	}

	return nil
}

func (g *AWSGateway) sendEmail(ctx context.Context, to []string, subject, body string) error {
	_, err := g.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: to,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
				Html: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(g.config.FromEmail),
	})
	return err
}

func (g *AWSGateway) sendSMS(ctx context.Context, to, message string) error {
	_, err := g.snsClient.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	})
	return err
}

// renderTemplate replaces {{key}} placeholders and strips any that remain.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if i, ok := v.(int); ok {
			value = fmt.Sprintf("%d", i)
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}
