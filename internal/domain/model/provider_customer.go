package model

import (
	"strings"
	"time"
)

// Customer is the billing identity read when creating the gateway-side customer.
type Customer struct {
	ID                  string
	OrganizationID      string
	ExternalID          string
	CustomerType        string // company | individual
	FirstName           string
	LastName            string
	LegalName           string
	Email               string
	Phone               string
	TaxID               string
	AddressLine1        string
	AddressLine2        string
	PaymentProvider     GatewayKind // gateway used for automatic charges; empty when none
	PaymentProviderCode string
}

// DisplayName prefers the legal name for companies.
func (c *Customer) DisplayName() string {
	if c.CustomerType == "company" && c.LegalName != "" {
		return c.LegalName
	}
	if n := strings.TrimSpace(c.FirstName + " " + c.LastName); n != "" {
		return n
	}
	return c.LegalName
}

// PaymentProviderCustomer links a Customer to its id on one gateway.
// At most one non-deleted row exists per (customer, gateway kind).
type PaymentProviderCustomer struct {
	ID                 string
	CustomerID         string
	PaymentProviderID  string
	Gateway            GatewayKind
	ProviderCustomerID string // empty until the gateway customer is created
	PaymentMethodID    string // stored card token / mandate id
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          *time.Time
}

// Chargeable reports whether merchant-initiated charges can be sent for this customer.
func (c *PaymentProviderCustomer) Chargeable() bool {
	return c != nil && c.DeletedAt == nil && c.ProviderCustomerID != "" && c.PaymentMethodID != ""
}
