package model

import (
	"encoding/json"
	"time"
)

// EventKind is the semantic class of a webhook event, independent of gateway vocabulary.
type EventKind string

const (
	EventPaymentIntentUpdated EventKind = "payment_intent.updated"
	EventTransactionUpdated   EventKind = "transaction.updated"
	EventPaymentMethodUpdated EventKind = "payment_method.updated"
	EventUnknown              EventKind = "unknown"
)

// TransactionOutcome is the card-scheme level result reported by transaction events.
type TransactionOutcome string

const (
	TransactionSucceeded TransactionOutcome = "succeeded"
	TransactionFailed    TransactionOutcome = "failed"
	TransactionPending   TransactionOutcome = "pending"
)

// CustomFields are internal identifiers embedded in outbound requests and echoed back.
type CustomFields struct {
	MerchantInitiated      bool   `json:"lago_mit,omitempty"`
	OrganizationID         string `json:"lago_organization_id,omitempty"`
	CustomerID             string `json:"lago_customer_id,omitempty"`
	PayableID              string `json:"lago_payable_id,omitempty"`
	PayableType            string `json:"lago_payable_type,omitempty"`
	PlanID                 string `json:"lago_plan_id,omitempty"`
	SubscriptionExternalID string `json:"lago_subscription_external_id,omitempty"`
}

// PayableRef resolves the embedded payable reference.
func (c CustomFields) PayableRef() (PayableRef, error) {
	return NewPayableRef(c.PayableType, c.PayableID)
}

// InboundEvent is a verified, normalized webhook event ready for dispatch.
type InboundEvent struct {
	ID                   string             `json:"id"`
	OrganizationID       string             `json:"organization_id"`
	ProviderID           string             `json:"provider_id"`
	Gateway              GatewayKind        `json:"gateway"`
	Kind                 EventKind          `json:"kind"`
	Type                 string             `json:"type"` // raw gateway event name
	ProviderPaymentID    string             `json:"provider_payment_id,omitempty"`
	TransactionID        string             `json:"transaction_id,omitempty"`
	RawStatus            string             `json:"raw_status,omitempty"`
	Outcome              TransactionOutcome `json:"outcome,omitempty"`
	PaymentMethodID      string             `json:"payment_method_id,omitempty"`
	ProviderCustomerID   string             `json:"provider_customer_id,omitempty"`
	ErrorCode            string             `json:"error_code,omitempty"`
	ErrorMessage         string             `json:"error_message,omitempty"`
	CustomFields         CustomFields       `json:"custom_fields"`
	// UnsignedCustomFields is set by gateways whose signature does not cover the custom fields.
	UnsignedCustomFields bool               `json:"unsigned_custom_fields,omitempty"`
	OccurredAt           time.Time          `json:"occurred_at"`
	ReceivedAt           time.Time          `json:"received_at"`
	Payload              json.RawMessage    `json:"payload,omitempty"`
}
