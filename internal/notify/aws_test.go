package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"commerce-workers/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

type mockSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, params)
	return &ses.SendEmailOutput{}, nil
}

type mockSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, params)
	return &sns.PublishOutput{}, nil
}

func newTestGateway(t *testing.T, cfg *Config) (*AWSGateway, *mockSES, *mockSNS) {
	sesMock := &mockSES{}
	snsMock := &mockSNS{}
	gateway := NewAWSGateway(cfg, sesMock, snsMock, nil, logger.NewZapAdapter(zaptest.NewLogger(t)))
	return gateway, sesMock, snsMock
}

func emailConfig() *Config {
	return &Config{
		EmailEnabled: true,
		FromEmail:    "shop@example.com",
	}
}

// ==========================
// Send Tests
// ==========================

func TestGateway_Send_Email(t *testing.T) {
	gateway, sesMock, snsMock := newTestGateway(t, emailConfig())

	err := gateway.Send(context.Background(), Notification{
		TenantID:   "tenant-1",
		Recipients: []string{"alice@example.com", "bob@example.com"},
		Template:   TemplateBackInStock,
		Data: map[string]interface{}{
			"productName":   "Desk Lamp",
			"variantSuffix": " / Black",
		},
	})
	require.NoError(t, err)

	require.Len(t, sesMock.inputs, 1)
	input := sesMock.inputs[0]
	assert.Equal(t, "shop@example.com", *input.Source)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "Desk Lamp is back in stock", *input.Message.Subject.Data)
	assert.Contains(t, *input.Message.Body.Text.Data, "Desk Lamp / Black")

	assert.Empty(t, snsMock.inputs)
}

func TestGateway_Send_NoRecipients(t *testing.T) {
	gateway, sesMock, _ := newTestGateway(t, emailConfig())

	err := gateway.Send(context.Background(), Notification{
		TenantID: "tenant-1",
		Template: TemplateBackInStock,
	})
	assert.ErrorIs(t, err, ErrNoRecipients)
	assert.Empty(t, sesMock.inputs)
}

func TestGateway_Send_UnknownTemplate(t *testing.T) {
	gateway, _, _ := newTestGateway(t, emailConfig())

	err := gateway.Send(context.Background(), Notification{
		Recipients: []string{"alice@example.com"},
		Template:   "password_reset",
	})
	assert.Error(t, err)
}

func TestGateway_Send_EmailFailure(t *testing.T) {
	gateway, sesMock, _ := newTestGateway(t, emailConfig())
	sesMock.err = errors.New("throttled")

	err := gateway.Send(context.Background(), Notification{
		Recipients: []string{"alice@example.com"},
		Template:   TemplateLowStock,
		Data:       map[string]interface{}{"productName": "Desk Lamp"},
	})
	assert.Error(t, err)
}

func TestGateway_Send_OutOfStockFansOutSMS(t *testing.T) {
	cfg := emailConfig()
	cfg.SMSEnabled = true
	cfg.StaffNumbers = []string{"+15550001", "+15550002"}
	gateway, _, snsMock := newTestGateway(t, cfg)

	err := gateway.Send(context.Background(), Notification{
		Recipients: []string{"ops@example.com"},
		Template:   TemplateOutOfStock,
		Data:       map[string]interface{}{"productName": "Desk Lamp"},
	})
	require.NoError(t, err)

	require.Len(t, snsMock.inputs, 2)
	assert.Equal(t, "+15550001", *snsMock.inputs[0].PhoneNumber)
	assert.Contains(t, *snsMock.inputs[0].Message, "Desk Lamp")
}

func TestGateway_Send_SMSFailureIsNotFatal(t *testing.T) {
	cfg := emailConfig()
	cfg.SMSEnabled = true
	cfg.StaffNumbers = []string{"+15550001"}
	gateway, sesMock, snsMock := newTestGateway(t, cfg)
	snsMock.err = errors.New("invalid number")

	err := gateway.Send(context.Background(), Notification{
		Recipients: []string{"ops@example.com"},
		Template:   TemplateOutOfStock,
		Data:       map[string]interface{}{"productName": "Desk Lamp"},
	})
	assert.NoError(t, err)
	assert.Len(t, sesMock.inputs, 1)
}

func TestGateway_Send_NoSMSForOtherTemplates(t *testing.T) {
	cfg := emailConfig()
	cfg.SMSEnabled = true
	cfg.StaffNumbers = []string{"+15550001"}
	gateway, _, snsMock := newTestGateway(t, cfg)

	err := gateway.Send(context.Background(), Notification{
		Recipients: []string{"alice@example.com"},
		Template:   TemplateCartRecovery,
		Data:       map[string]interface{}{"itemCount": 2, "emailNumber": 1, "maxEmails": 3},
	})
	require.NoError(t, err)
	assert.Empty(t, snsMock.inputs)
}

// ==========================
// Template Rendering Tests
// ==========================

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]interface{}
		expected string
	}{
		{
			name:     "string and int values",
			template: "{{productName}} has {{stockQuantity}} left",
			data:     map[string]interface{}{"productName": "Desk Lamp", "stockQuantity": 3},
			expected: "Desk Lamp has 3 left",
		},
		{
			name:     "unresolved placeholders are stripped",
			template: "Hello {{name}}, item {{sku}}",
			data:     map[string]interface{}{"name": "Alice"},
			expected: "Hello Alice, item ",
		},
		{
			name:     "nil data",
			template: "static text",
			data:     nil,
			expected: "static text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, renderTemplate(tt.template, tt.data))
		})
	}
}
