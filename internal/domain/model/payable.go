package model

import (
	"time"

	"gateway-reconciler/internal/domain"
)

type PayableType string

const (
	PayableInvoice        PayableType = "Invoice"
	PayablePaymentRequest PayableType = "PaymentRequest"
)

func (t PayableType) Valid() bool {
	return t == PayableInvoice || t == PayablePaymentRequest
}

// PayableRef is the polymorphic reference stored on payments and echoed in custom fields.
type PayableRef struct {
	Type PayableType
	ID   string
}

func (r PayableRef) String() string { return string(r.Type) + ":" + r.ID }

// Payable is the obligation a Payment settles. Each variant supplies its own
// dependent obligations for status fan-out.
type Payable interface {
	Ref() PayableRef
	OrganizationRef() string
	CustomerRef() string
	Amount() int64
	CurrencyCode() string
	Status() CanonicalStatus
	Version() int64
	// Dependents lists obligations whose payment status must mirror this payable.
	Dependents() []PayableRef
	// Subscription returns the external subscription id and plan id used for correlation.
	Subscription() (externalID, planID string)
	// ApplyStatus sets payment_status and ready_for_payment_processing together.
	ApplyStatus(s CanonicalStatus)
	Attempts() int
	IncrementAttempts()
}

type InvoiceType string

const (
	InvoiceTypeSubscription InvoiceType = "subscription"
	InvoiceTypeOneOff       InvoiceType = "one_off"
	InvoiceTypeCredit       InvoiceType = "credit"
	InvoiceTypeAddOn        InvoiceType = "add_on"
)

type Invoice struct {
	ID                        string
	OrganizationID            string
	CustomerID                string
	InvoiceType               InvoiceType
	TotalAmountCents          int64
	Currency                  string
	PaymentStatus             CanonicalStatus
	ReadyForPaymentProcessing bool
	PaymentAttempts           int
	SubscriptionExternalID    string
	PlanID                    string
	LockVersion               int64
	UpdatedAt                 time.Time
}

var _ Payable = (*Invoice)(nil)

func (i *Invoice) Ref() PayableRef          { return PayableRef{Type: PayableInvoice, ID: i.ID} }
func (i *Invoice) OrganizationRef() string  { return i.OrganizationID }
func (i *Invoice) CustomerRef() string      { return i.CustomerID }
func (i *Invoice) Amount() int64            { return i.TotalAmountCents }
func (i *Invoice) CurrencyCode() string     { return i.Currency }
func (i *Invoice) Status() CanonicalStatus  { return i.PaymentStatus }
func (i *Invoice) Version() int64           { return i.LockVersion }
func (i *Invoice) Dependents() []PayableRef { return nil }
func (i *Invoice) Attempts() int            { return i.PaymentAttempts }
func (i *Invoice) IncrementAttempts()       { i.PaymentAttempts++ }

func (i *Invoice) Subscription() (string, string) {
	return i.SubscriptionExternalID, i.PlanID
}

func (i *Invoice) ApplyStatus(s CanonicalStatus) {
	i.PaymentStatus = s
	i.ReadyForPaymentProcessing = s.ReadyForProcessing()
}

// PaymentRequest aggregates one or more invoices into a single charge.
type PaymentRequest struct {
	ID                        string
	OrganizationID            string
	CustomerID                string
	Email                     string
	AmountCents               int64
	Currency                  string
	PaymentStatus             CanonicalStatus
	ReadyForPaymentProcessing bool
	PaymentAttempts           int
	InvoiceIDs                []string
	SubscriptionExternalID    string // of the first applied invoice
	PlanID                    string
	LockVersion               int64
	UpdatedAt                 time.Time
}

var _ Payable = (*PaymentRequest)(nil)

func (p *PaymentRequest) Ref() PayableRef         { return PayableRef{Type: PayablePaymentRequest, ID: p.ID} }
func (p *PaymentRequest) OrganizationRef() string { return p.OrganizationID }
func (p *PaymentRequest) CustomerRef() string     { return p.CustomerID }
func (p *PaymentRequest) Amount() int64           { return p.AmountCents }
func (p *PaymentRequest) CurrencyCode() string    { return p.Currency }
func (p *PaymentRequest) Status() CanonicalStatus { return p.PaymentStatus }
func (p *PaymentRequest) Version() int64          { return p.LockVersion }
func (p *PaymentRequest) Attempts() int           { return p.PaymentAttempts }
func (p *PaymentRequest) IncrementAttempts()      { p.PaymentAttempts++ }

func (p *PaymentRequest) Dependents() []PayableRef {
	out := make([]PayableRef, 0, len(p.InvoiceIDs))
	for _, id := range p.InvoiceIDs {
		out = append(out, PayableRef{Type: PayableInvoice, ID: id})
	}
	return out
}

func (p *PaymentRequest) Subscription() (string, string) {
	return p.SubscriptionExternalID, p.PlanID
}

func (p *PaymentRequest) ApplyStatus(s CanonicalStatus) {
	p.PaymentStatus = s
	p.ReadyForPaymentProcessing = s.ReadyForProcessing()
}

// NewPayableRef validates an untrusted (type, id) pair, e.g. from custom fields.
func NewPayableRef(typ, id string) (PayableRef, error) {
	ref := PayableRef{Type: PayableType(typ), ID: id}
	if !ref.Type.Valid() || id == "" {
		return PayableRef{}, domain.ErrInvalidArgument
	}
	return ref, nil
}
