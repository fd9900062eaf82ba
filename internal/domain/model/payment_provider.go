package model

import (
	"net/url"
	"strings"
	"time"
)

type GatewayKind string

const (
	GatewayMoneyhash GatewayKind = "moneyhash"
	GatewayZarinpal  GatewayKind = "zarinpal"
	GatewayChapa     GatewayKind = "chapa"
)

// ParseGatewayKind normalizes a path or config value into a GatewayKind.
func ParseGatewayKind(s string) (GatewayKind, bool) {
	switch k := GatewayKind(strings.ToLower(strings.TrimSpace(s))); k {
	case GatewayMoneyhash, GatewayZarinpal, GatewayChapa:
		return k, true
	}
	return "", false
}

type Environment string

const (
	EnvironmentLive Environment = "live"
	EnvironmentTest Environment = "test"
)

// Organization is only read by the core to scope webhooks.
type Organization struct {
	ID   string
	Name string
}

// PaymentProvider is one configured gateway account for an organization.
// Secrets are decrypted by the repository layer before reaching the core.
type PaymentProvider struct {
	ID             string
	OrganizationID string
	Code           string // unique per organization
	Name           string
	Gateway        GatewayKind
	APIKey         string
	WebhookSecret  string
	Environment    Environment
	Settings       ProviderSettings
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProviderSettings holds gateway-specific, non-secret configuration.
type ProviderSettings struct {
	FlowID      string `json:"flow_id,omitempty"`     // moneyhash
	MerchantID  string `json:"merchant_id,omitempty"` // zarinpal
	CallbackURL string `json:"callback_url,omitempty"`
}

func (p *PaymentProvider) Live() bool { return p.Environment == EnvironmentLive }

// WebhookEndpoint is the URL the gateway should call back for this provider.
func (p *PaymentProvider) WebhookEndpoint(publicURL string) string {
	base := strings.TrimRight(publicURL, "/")
	return base + "/webhooks/" + string(p.Gateway) + "/" + p.OrganizationID + "?code=" + url.QueryEscape(p.Code)
}
