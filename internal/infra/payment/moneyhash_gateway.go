package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
)

var (
	_ adapter.Gateway         = (*MoneyhashGateway)(nil)
	_ adapter.CustomerCreator = (*MoneyhashGateway)(nil)
)

const moneyhashSignatureHeader = "X-Moneyhash-Signature"

var moneyhashStatuses = map[string]model.CanonicalStatus{
	"PENDING":      model.StatusPending,
	"PROCESSED":    model.StatusSucceeded,
	"FAILED":       model.StatusFailed,
	"TIME_EXPIRED": model.StatusFailed,
}

// MoneyhashGateway talks to the MoneyHash intents API and decodes its webhooks.
type MoneyhashGateway struct {
	client *gatewayClient
}

func NewMoneyhashGateway(liveURL, testURL string, timeout time.Duration) *MoneyhashGateway {
	return &MoneyhashGateway{client: newGatewayClient(model.GatewayMoneyhash, liveURL, testURL, timeout)}
}

func (g *MoneyhashGateway) Kind() model.GatewayKind { return model.GatewayMoneyhash }
func (g *MoneyhashGateway) OpenStatus() string      { return "PENDING" }
func (g *MoneyhashGateway) FailedStatus() string    { return "FAILED" }

func (g *MoneyhashGateway) NormalizeStatus(raw string) model.CanonicalStatus {
	if s, ok := moneyhashStatuses[raw]; ok {
		return s
	}
	return model.CanonicalStatus(raw)
}

func (g *MoneyhashGateway) Verify(headers http.Header, body []byte, secret string) bool {
	return signatureMatches(secret, headers.Get(moneyhashSignatureHeader), body)
}

type moneyhashIntent struct {
	ID           string             `json:"id"`
	Status       string             `json:"status"`
	CustomFields model.CustomFields `json:"custom_fields"`
}

type moneyhashEvent struct {
	Type string `json:"type"`
	Data struct {
		IntentID  string          `json:"intent_id"`
		Intent    moneyhashIntent `json:"intent"`
		CardToken struct {
			ID           string             `json:"id"`
			Customer     string             `json:"customer"`
			CustomFields model.CustomFields `json:"custom_fields"`
		} `json:"card_token"`
	} `json:"data"`

	// transaction.* events carry the transaction at the top level.
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	ResponseCode    string          `json:"response_code"`
	ResponseMessage string          `json:"response_message"`
	Intent          moneyhashIntent `json:"intent"`
}

func (g *MoneyhashGateway) ParseEvent(body []byte, declaredType string) (*model.InboundEvent, error) {
	var raw moneyhashEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	typ := declaredType
	if typ == "" {
		typ = raw.Type
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: missing event type", domain.ErrMalformedPayload)
	}

	ev := &model.InboundEvent{Type: typ, Kind: model.EventUnknown, Payload: json.RawMessage(body), OccurredAt: time.Now().UTC()}
	switch {
	case strings.HasPrefix(typ, "intent."):
		ev.Kind = model.EventPaymentIntentUpdated
		ev.ProviderPaymentID = raw.Data.IntentID
		if ev.ProviderPaymentID == "" {
			ev.ProviderPaymentID = raw.Data.Intent.ID
		}
		ev.RawStatus = raw.Data.Intent.Status
		if ev.RawStatus == "" {
			// intent.processed, intent.time_expired
			ev.RawStatus = strings.ToUpper(strings.TrimPrefix(typ, "intent."))
		}
		ev.CustomFields = raw.Data.Intent.CustomFields

	case strings.HasPrefix(typ, "transaction."):
		ev.Kind = model.EventTransactionUpdated
		ev.ProviderPaymentID = raw.Intent.ID
		ev.TransactionID = raw.ID
		ev.CustomFields = raw.Intent.CustomFields
		ev.Outcome = moneyhashTransactionOutcome(typ, raw.Status)
		switch ev.Outcome {
		case model.TransactionSucceeded:
			ev.RawStatus = "PROCESSED"
		case model.TransactionFailed:
			ev.RawStatus = g.OpenStatus()
			ev.ErrorCode = raw.ResponseCode
			ev.ErrorMessage = raw.ResponseMessage
		default:
			ev.RawStatus = g.OpenStatus()
		}

	case typ == "card_token.created" || typ == "card_token.updated":
		ev.Kind = model.EventPaymentMethodUpdated
		ev.PaymentMethodID = raw.Data.CardToken.ID
		ev.ProviderCustomerID = raw.Data.CardToken.Customer
		ev.CustomFields = raw.Data.CardToken.CustomFields
	}
	return ev, nil
}

// moneyhashTransactionOutcome reads the outcome from the status field, falling back to the event name
// (transaction.purchase.successful, transaction.purchase.failed, ...).
func moneyhashTransactionOutcome(typ, status string) model.TransactionOutcome {
	for _, s := range []string{strings.ToLower(status), strings.ToLower(typ)} {
		switch {
		case strings.Contains(s, "success"):
			return model.TransactionSucceeded
		case strings.Contains(s, "fail"):
			return model.TransactionFailed
		}
	}
	return model.TransactionPending
}

func (g *MoneyhashGateway) headers(p *model.PaymentProvider) map[string]string {
	return map[string]string{"x-Api-Key": p.APIKey}
}

func (g *MoneyhashGateway) BuildPaymentRequest(in adapter.ChargeInput) (*adapter.ChargeRequest, error) {
	if err := validateChargeInput(in); err != nil {
		return nil, err
	}
	if inv, ok := in.Payable.(*model.Invoice); ok && inv.InvoiceType != model.InvoiceTypeSubscription {
		return nil, fmt.Errorf("%w: Moneyhash supports automatic payments only for subscription invoices", domain.ErrUnsupportedPayable)
	}
	subID, _ := in.Payable.Subscription()
	return &adapter.ChargeRequest{
		Path: "/api/v1.1/payments/intent/",
		Body: map[string]any{
			"amount":             majorUnits(in.Payable.Amount()),
			"amount_currency":    strings.ToUpper(in.Payable.CurrencyCode()),
			"flow_id":            in.Provider.Settings.FlowID,
			"customer":           in.ProviderCustomer.ProviderCustomerID,
			"card_token":         in.ProviderCustomer.PaymentMethodID,
			"webhook_url":        in.WebhookURL,
			"merchant_initiated": true,
			"payment_type":       "UNSCHEDULED",
			"recurring_data":     map[string]any{"agreement_id": subID},
			"custom_fields":      customFields(in.Payable),
		},
	}, nil
}

type moneyhashResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

func (g *MoneyhashGateway) SendPayment(ctx context.Context, provider *model.PaymentProvider, req *adapter.ChargeRequest) (*adapter.ChargeResponse, error) {
	var out moneyhashResponse
	if err := g.client.post(ctx, "payment", provider, req.Path, g.headers(provider), req.Body, &out, moneyhashErrorCode); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, fmt.Errorf("moneyhash payment: response without intent id")
	}
	status := out.Data.Status
	if status == "" {
		status = g.OpenStatus()
	}
	return &adapter.ChargeResponse{ProviderPaymentID: out.Data.ID, Status: status}, nil
}

func (g *MoneyhashGateway) CreateCustomer(ctx context.Context, provider *model.PaymentProvider, c *model.Customer) (string, error) {
	body := map[string]any{
		"type":                strings.ToUpper(c.CustomerType),
		"first_name":          c.FirstName,
		"last_name":           c.LastName,
		"email":               c.Email,
		"phone_number":        c.Phone,
		"tax_id":              c.TaxID,
		"address":             strings.TrimSpace(c.AddressLine1 + " " + c.AddressLine2),
		"contact_person_name": c.DisplayName(),
		"company_name":        c.LegalName,
		"custom_fields": map[string]any{
			"lago_customer_id":          c.ID,
			"lago_customer_external_id": c.ExternalID,
			"lago_organization_id":      c.OrganizationID,
		},
	}
	var out moneyhashResponse
	if err := g.client.post(ctx, "customer", provider, "/api/v1.1/customers/", g.headers(provider), body, &out, moneyhashErrorCode); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("moneyhash customer: response without id")
	}
	return out.Data.ID, nil
}

// moneyhashErrorCode reads {"status":{"code":...,"message":...}} error envelopes.
func moneyhashErrorCode(body []byte) string {
	var e struct {
		Status struct {
			Code    json.Number `json:"code"`
			Message string      `json:"message"`
		} `json:"status"`
	}
	if json.Unmarshal(body, &e) != nil || e.Status.Code == "" {
		return ""
	}
	return "moneyhash_" + e.Status.Code.String()
}
