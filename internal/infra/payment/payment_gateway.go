package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"gateway-reconciler/internal/config"
	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/infra/metrics"
)

var _ adapter.GatewayRegistry = (*Registry)(nil)

// Registry holds one adapter per gateway kind. It is built once at startup and read-only afterwards.
type Registry struct {
	gateways map[model.GatewayKind]adapter.Gateway
}

func NewRegistry(gws ...adapter.Gateway) *Registry {
	r := &Registry{gateways: make(map[model.GatewayKind]adapter.Gateway, len(gws))}
	for _, g := range gws {
		r.gateways[g.Kind()] = g
	}
	return r
}

// NewRegistryFromConfig registers every supported gateway with its live and test base URLs.
func NewRegistryFromConfig(cfg config.GatewayConfig) *Registry {
	return NewRegistry(
		NewMoneyhashGateway(cfg.Moneyhash.LiveURL, cfg.Moneyhash.TestURL, cfg.Timeout),
		NewZarinPalGateway(cfg.Zarinpal.LiveURL, cfg.Zarinpal.TestURL, cfg.Timeout),
		NewChapaGateway(cfg.Chapa.LiveURL, cfg.Chapa.TestURL, cfg.Timeout),
	)
}

func (r *Registry) Gateway(kind model.GatewayKind) (adapter.Gateway, error) {
	g, ok := r.gateways[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownGateway, kind)
	}
	return g, nil
}

// Kinds lists registered gateway kinds in a stable order.
func (r *Registry) Kinds() []model.GatewayKind {
	out := make([]model.GatewayKind, 0, len(r.gateways))
	for k := range r.gateways {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// gatewayClient is the resty-backed transport shared by the adapters.
type gatewayClient struct {
	kind    model.GatewayKind
	liveURL string
	testURL string
	rc      *resty.Client
}

func newGatewayClient(kind model.GatewayKind, liveURL, testURL string, timeout time.Duration) *gatewayClient {
	rc := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	return &gatewayClient{
		kind:    kind,
		liveURL: strings.TrimRight(liveURL, "/"),
		testURL: strings.TrimRight(testURL, "/"),
		rc:      rc,
	}
}

func (c *gatewayClient) baseURL(p *model.PaymentProvider) string {
	if p.Live() {
		return c.liveURL
	}
	return c.testURL
}

// post sends body as JSON and decodes a 2xx answer into out.
// Non-2xx answers become *domain.GatewayError; codeOf extracts the gateway's own error code.
func (c *gatewayClient) post(ctx context.Context, op string, p *model.PaymentProvider, path string, headers map[string]string, body, out any, codeOf func([]byte) string) error {
	start := time.Now()
	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		Post(c.baseURL(p) + path)
	if err != nil {
		metrics.ObserveGatewayCall(string(c.kind), op, 0, time.Since(start).Seconds())
		return fmt.Errorf("%s %s: %w", c.kind, op, err)
	}
	metrics.ObserveGatewayCall(string(c.kind), op, resp.StatusCode(), time.Since(start).Seconds())

	raw := resp.Body()
	if !resp.IsSuccess() {
		ge := &domain.GatewayError{Gateway: string(c.kind), HTTPStatus: resp.StatusCode(), Body: truncate(string(raw), 512)}
		if codeOf != nil {
			ge.Code = codeOf(raw)
		}
		return ge
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", c.kind, op, err)
		}
	}
	return nil
}

// majorUnits converts minor currency units to the decimal amount most gateways expect.
func majorUnits(minor int64) float64 {
	return float64(minor) / 100
}

// customFields builds the identifiers every outbound request embeds and every webhook echoes.
func customFields(p model.Payable) model.CustomFields {
	ref := p.Ref()
	subID, planID := p.Subscription()
	return model.CustomFields{
		MerchantInitiated:      true,
		OrganizationID:         p.OrganizationRef(),
		CustomerID:             p.CustomerRef(),
		PayableID:              ref.ID,
		PayableType:            string(ref.Type),
		PlanID:                 planID,
		SubscriptionExternalID: subID,
	}
}

func validateChargeInput(in adapter.ChargeInput) error {
	if in.Payable == nil || in.Provider == nil {
		return errors.New("charge input: payable and provider are required")
	}
	if !in.ProviderCustomer.Chargeable() {
		return &domain.ValidationError{Field: "payment_method_id", Code: domain.CodePaymentMethodError}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
