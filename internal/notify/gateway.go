// internal/notify/gateway.go

// Package notify is the single egress point for customer- and staff-facing
// messages produced by the sweep workers.
package notify

import "context"

// Template identities produced by the lifecycle engine.
const (
	TemplateBackInStock  = "back_in_stock"
	TemplateCartRecovery = "cart_recovery" // data carries emailNumber 1-3
	TemplateLowStock     = "low_stock"
	TemplateOutOfStock   = "out_of_stock"
)

// Notification is one message to dispatch. Data feeds template rendering and
// is recorded in the notification history.
type Notification struct {
	TenantID   string                 `json:"tenantId"`
	Recipients []string               `json:"recipients"`
	Template   string                 `json:"template"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Gateway dispatches notifications. A nil error means the provider accepted
// the message; callers only commit terminal state after that.
type Gateway interface {
	Send(ctx context.Context, n Notification) error
}
