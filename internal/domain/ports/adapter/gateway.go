package adapter

import (
	"context"
	"net/http"

	"gateway-reconciler/internal/domain/model"
)

// ChargeInput carries everything an adapter needs to shape an outbound payment.
// Provider and customer are resolved by the caller; adapters never look them up.
type ChargeInput struct {
	Payable          model.Payable
	ProviderCustomer *model.PaymentProviderCustomer
	Provider         *model.PaymentProvider
	WebhookURL       string
}

// ChargeRequest is the gateway-shaped payment-creation call.
type ChargeRequest struct {
	Path string
	Body map[string]any
}

// ChargeResponse is the gateway's synchronous answer to a payment-creation call.
type ChargeResponse struct {
	ProviderPaymentID string
	Status            string // gateway vocabulary
}

// Gateway is the per-provider contract shared by all payment gateways.
type Gateway interface {
	Kind() model.GatewayKind

	// Verify checks webhook authenticity. A missing or mismatched signature returns false.
	Verify(headers http.Header, body []byte, secret string) bool
	// ParseEvent decodes a verified webhook body into a normalized event.
	// Organization and provider ids are filled in by the ingress.
	ParseEvent(body []byte, declaredType string) (*model.InboundEvent, error)

	// NormalizeStatus maps gateway vocabulary to canonical status using an allow-list.
	// Unknown values are returned unchanged.
	NormalizeStatus(raw string) model.CanonicalStatus
	// OpenStatus is the raw status that keeps an attempt open (non-terminal).
	OpenStatus() string
	// FailedStatus is the raw status recorded when the gateway rejects a payment call.
	FailedStatus() string

	BuildPaymentRequest(in ChargeInput) (*ChargeRequest, error)
	// SendPayment returns *domain.GatewayError for non-2xx answers.
	SendPayment(ctx context.Context, provider *model.PaymentProvider, req *ChargeRequest) (*ChargeResponse, error)
}

// CustomerCreator is implemented by gateways that need a gateway-side customer before charging.
type CustomerCreator interface {
	CreateCustomer(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (providerCustomerID string, err error)
}

// GatewayRegistry resolves the adapter for a gateway kind. It is built once at startup.
type GatewayRegistry interface {
	// Gateway returns domain.ErrUnknownGateway for unregistered kinds.
	Gateway(kind model.GatewayKind) (Gateway, error)
}
