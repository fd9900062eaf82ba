package model

import "time"

// Payment is one attempt, through one gateway, to collect against a Payable.
// ProviderPaymentID is the idempotency key and is unique when present.
type Payment struct {
	ID                        string
	OrganizationID            string
	Payable                   PayableRef
	PaymentProviderID         string
	PaymentProviderCustomerID string
	Amount                    int64 // minor units
	Currency                  string
	ProviderPaymentID         string
	Status                    string          // raw gateway vocabulary
	PayableStatus             CanonicalStatus // derived
	ErrorCode                 string
	ErrorMessage              string
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// Closed reports whether this attempt reached a terminal canonical status.
func (p *Payment) Closed() bool { return p.PayableStatus.Terminal() }
