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

var _ adapter.Gateway = (*ZarinPalGateway)(nil)

const zarinpalSignatureHeader = "X-Zarinpal-Signature"

var zarinpalStatuses = map[string]model.CanonicalStatus{
	"PENDING":  model.StatusPending,
	"IN_BANK":  model.StatusProcessing,
	"PAID":     model.StatusSucceeded,
	"VERIFIED": model.StatusSucceeded,
	"FAILED":   model.StatusFailed,
	"REVERSED": model.StatusFailed,
	"CANCELED": model.StatusFailed,
}

// ZarinPalGateway implements the v4 payment API. Amounts are sent in IRR as integers.
type ZarinPalGateway struct {
	client *gatewayClient
}

func NewZarinPalGateway(liveURL, testURL string, timeout time.Duration) *ZarinPalGateway {
	return &ZarinPalGateway{client: newGatewayClient(model.GatewayZarinpal, liveURL, testURL, timeout)}
}

func (g *ZarinPalGateway) Kind() model.GatewayKind { return model.GatewayZarinpal }
func (g *ZarinPalGateway) OpenStatus() string      { return "PENDING" }
func (g *ZarinPalGateway) FailedStatus() string    { return "FAILED" }

func (g *ZarinPalGateway) NormalizeStatus(raw string) model.CanonicalStatus {
	if s, ok := zarinpalStatuses[strings.ToUpper(raw)]; ok {
		return s
	}
	return model.CanonicalStatus(raw)
}

// zarinpalEvent is the callback body. metadata echoes the custom fields sent with the request.
type zarinpalEvent struct {
	Event     string             `json:"event"`
	Authority string             `json:"authority"`
	Status    string             `json:"status"`
	Amount    json.Number        `json:"amount"`
	RefID     json.Number        `json:"ref_id"`
	Code      json.Number        `json:"code"`
	Message   string             `json:"message"`
	Metadata  model.CustomFields `json:"metadata"`
}

func (g *ZarinPalGateway) Verify(headers http.Header, body []byte, secret string) bool {
	var ev zarinpalEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return false
	}
	return VerifyZarinPalWebhookSignature(secret, map[string]string{
		"amount":    ev.Amount.String(),
		"authority": ev.Authority,
		"status":    ev.Status,
	}, headers.Get(zarinpalSignatureHeader))
}

func (g *ZarinPalGateway) ParseEvent(body []byte, declaredType string) (*model.InboundEvent, error) {
	var raw zarinpalEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	typ := declaredType
	if typ == "" {
		typ = raw.Event
	}
	if typ == "" {
		typ = "payment." + strings.ToLower(raw.Status)
	}
	ev := &model.InboundEvent{Type: typ, Kind: model.EventUnknown, Payload: json.RawMessage(body), OccurredAt: time.Now().UTC()}
	if strings.HasPrefix(typ, "payment.") {
		if raw.Authority == "" {
			return nil, fmt.Errorf("%w: missing authority", domain.ErrMalformedPayload)
		}
		ev.Kind = model.EventPaymentIntentUpdated
		ev.ProviderPaymentID = raw.Authority
		ev.RawStatus = strings.ToUpper(raw.Status)
		ev.TransactionID = raw.RefID.String()
		ev.CustomFields = raw.Metadata
		// the signature covers amount, authority and status only
		ev.UnsignedCustomFields = true
		if g.NormalizeStatus(ev.RawStatus) == model.StatusFailed {
			ev.ErrorCode = raw.Code.String()
			ev.ErrorMessage = raw.Message
		}
	}
	return ev, nil
}

func (g *ZarinPalGateway) BuildPaymentRequest(in adapter.ChargeInput) (*adapter.ChargeRequest, error) {
	if err := validateChargeInput(in); err != nil {
		return nil, err
	}
	merchantID := in.Provider.Settings.MerchantID
	if merchantID == "" {
		merchantID = in.Provider.APIKey
	}
	callbackURL := in.Provider.Settings.CallbackURL
	if callbackURL == "" {
		callbackURL = in.WebhookURL
	}
	ref := in.Payable.Ref()
	return &adapter.ChargeRequest{
		Path: "/pg/v4/payment/request.json",
		Body: map[string]any{
			"merchant_id":  merchantID,
			"amount":       in.Payable.Amount(),
			"currency":     strings.ToUpper(in.Payable.CurrencyCode()),
			"callback_url": callbackURL,
			"description":  fmt.Sprintf("%s %s", ref.Type, ref.ID),
			"metadata":     customFields(in.Payable),
		},
	}, nil
}

// ZarinPalRequestResponse represents the response from the payment request API.
type ZarinPalRequestResponse struct {
	Data struct {
		Code      int    `json:"code"`
		Message   string `json:"message"`
		Authority string `json:"authority"`
		FeeType   string `json:"fee_type"`
		Fee       int    `json:"fee"`
	} `json:"data"`
	Errors json.RawMessage `json:"errors"`
}

func (g *ZarinPalGateway) SendPayment(ctx context.Context, provider *model.PaymentProvider, req *adapter.ChargeRequest) (*adapter.ChargeResponse, error) {
	var out ZarinPalRequestResponse
	if err := g.client.post(ctx, "payment", provider, req.Path, nil, req.Body, &out, zarinpalErrorCode); err != nil {
		return nil, err
	}
	// A 2xx answer can still carry a rejection code.
	if out.Data.Code != 100 || out.Data.Authority == "" {
		return nil, &domain.GatewayError{
			Gateway:    string(model.GatewayZarinpal),
			HTTPStatus: http.StatusOK,
			Code:       fmt.Sprintf("zarinpal_%d", out.Data.Code),
			Body:       out.Data.Message,
		}
	}
	return &adapter.ChargeResponse{ProviderPaymentID: out.Data.Authority, Status: g.OpenStatus()}, nil
}

// zarinpalErrorCode reads {"errors":{"code":-9,"message":...}} envelopes.
func zarinpalErrorCode(body []byte) string {
	var e struct {
		Errors struct {
			Code json.Number `json:"code"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &e) != nil || e.Errors.Code == "" {
		return ""
	}
	return "zarinpal_" + e.Errors.Code.String()
}
