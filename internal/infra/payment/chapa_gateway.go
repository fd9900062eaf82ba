package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
)

var _ adapter.Gateway = (*ChapaGateway)(nil)

var chapaStatuses = map[string]model.CanonicalStatus{
	"pending":    model.StatusPending,
	"processing": model.StatusProcessing,
	"success":    model.StatusSucceeded,
	"failed":     model.StatusFailed,
	"cancelled":  model.StatusFailed,
}

// ChapaGateway charges tokenized customers through Chapa. tx_ref is generated per attempt
// and doubles as the provider payment id.
type ChapaGateway struct {
	client *gatewayClient
}

func NewChapaGateway(liveURL, testURL string, timeout time.Duration) *ChapaGateway {
	return &ChapaGateway{client: newGatewayClient(model.GatewayChapa, liveURL, testURL, timeout)}
}

func (g *ChapaGateway) Kind() model.GatewayKind { return model.GatewayChapa }
func (g *ChapaGateway) OpenStatus() string      { return "pending" }
func (g *ChapaGateway) FailedStatus() string    { return "failed" }

func (g *ChapaGateway) NormalizeStatus(raw string) model.CanonicalStatus {
	if s, ok := chapaStatuses[strings.ToLower(raw)]; ok {
		return s
	}
	return model.CanonicalStatus(raw)
}

// Verify accepts either signature header Chapa has used.
func (g *ChapaGateway) Verify(headers http.Header, body []byte, secret string) bool {
	sig := headers.Get("Chapa-Signature")
	if sig == "" {
		sig = headers.Get("X-Chapa-Signature")
	}
	return signatureMatches(secret, sig, body)
}

type chapaEvent struct {
	Event     string             `json:"event"`
	Type      string             `json:"type"`
	TxRef     string             `json:"tx_ref"`
	Reference string             `json:"reference"`
	Status    string             `json:"status"`
	Message   string             `json:"message"`
	Meta      model.CustomFields `json:"meta"`
}

func (g *ChapaGateway) ParseEvent(body []byte, declaredType string) (*model.InboundEvent, error) {
	var raw chapaEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	typ := declaredType
	if typ == "" {
		typ = raw.Event
	}
	if typ == "" {
		typ = raw.Type
	}
	if typ == "" {
		return nil, fmt.Errorf("%w: missing event type", domain.ErrMalformedPayload)
	}
	ev := &model.InboundEvent{Type: typ, Kind: model.EventUnknown, Payload: json.RawMessage(body), OccurredAt: time.Now().UTC()}
	if strings.HasPrefix(typ, "charge.") {
		if raw.TxRef == "" {
			return nil, fmt.Errorf("%w: missing tx_ref", domain.ErrMalformedPayload)
		}
		ev.Kind = model.EventPaymentIntentUpdated
		ev.ProviderPaymentID = raw.TxRef
		ev.TransactionID = raw.Reference
		ev.RawStatus = strings.ToLower(raw.Status)
		if ev.RawStatus == "" {
			ev.RawStatus = strings.TrimPrefix(typ, "charge.")
		}
		ev.CustomFields = raw.Meta
		if g.NormalizeStatus(ev.RawStatus) == model.StatusFailed {
			ev.ErrorMessage = raw.Message
		}
	}
	return ev, nil
}

func (g *ChapaGateway) BuildPaymentRequest(in adapter.ChargeInput) (*adapter.ChargeRequest, error) {
	if err := validateChargeInput(in); err != nil {
		return nil, err
	}
	return &adapter.ChargeRequest{
		Path: "/v1/transaction/charge",
		Body: map[string]any{
			"amount":       strconv.FormatFloat(majorUnits(in.Payable.Amount()), 'f', 2, 64),
			"currency":     strings.ToUpper(in.Payable.CurrencyCode()),
			"tx_ref":       uuid.NewString(),
			"customer":     in.ProviderCustomer.ProviderCustomerID,
			"token":        in.ProviderCustomer.PaymentMethodID,
			"callback_url": in.WebhookURL,
			"meta":         customFields(in.Payable),
		},
	}, nil
}

type chapaResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Data    struct {
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

func (g *ChapaGateway) SendPayment(ctx context.Context, provider *model.PaymentProvider, req *adapter.ChargeRequest) (*adapter.ChargeResponse, error) {
	var out chapaResponse
	headers := map[string]string{"Authorization": "Bearer " + provider.APIKey}
	if err := g.client.post(ctx, "payment", provider, req.Path, headers, req.Body, &out, chapaErrorCode); err != nil {
		return nil, err
	}
	if out.Status != "success" {
		return nil, &domain.GatewayError{Gateway: string(model.GatewayChapa), HTTPStatus: http.StatusOK, Code: "chapa_" + out.Status, Body: out.Message}
	}
	txRef := out.Data.TxRef
	if txRef == "" {
		txRef, _ = req.Body["tx_ref"].(string)
	}
	status := strings.ToLower(out.Data.Status)
	if status == "" {
		status = g.OpenStatus()
	}
	return &adapter.ChargeResponse{ProviderPaymentID: txRef, Status: status}, nil
}

func chapaErrorCode(body []byte) string {
	var e struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &e) != nil || e.Status == "" {
		return ""
	}
	return "chapa_" + e.Status
}
