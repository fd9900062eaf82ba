package adapter

import (
	"context"
	"time"
)

const (
	EventPaymentFailed           = "payment.failed"
	EventPaymentProviderError    = "payment.payment_provider_error"
	EventCustomerProviderCreated = "customer.payment_provider_created"
	EventCustomerProviderError   = "customer.payment_provider_error"
)

// Notification is a fire-and-forget message for an external delivery channel.
type Notification struct {
	Event          string         `json:"event"`
	OrganizationID string         `json:"organization_id"`
	SubjectType    string         `json:"subject_type"`
	SubjectID      string         `json:"subject_id"`
	Detail         map[string]any `json:"detail,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Notifier delivers notifications. Failures must never fail the caller's transaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
