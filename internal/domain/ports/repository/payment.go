package repository

import (
	"context"
	"time"

	"gateway-reconciler/internal/domain/model"
)

// -----------------------------
// Payments
// -----------------------------

type PaymentRepository interface {
	// Create inserts p. It returns domain.ErrAlreadyExists when another row already
	// holds p.ProviderPaymentID; the caller re-reads instead of failing.
	Create(ctx context.Context, tx Tx, p *model.Payment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Payment, error)
	FindByProviderPaymentID(ctx context.Context, tx Tx, providerPaymentID string) (*model.Payment, error)
	// UpdateStatus writes the raw and canonical status (and error detail) of p.
	UpdateStatus(ctx context.Context, tx Tx, p *model.Payment) error
	ListByPayable(ctx context.Context, tx Tx, ref model.PayableRef) ([]*model.Payment, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.Payment, error)
}

// -----------------------------
// Payables (Invoice | PaymentRequest)
// -----------------------------

type PayableRepository interface {
	Find(ctx context.Context, tx Tx, ref model.PayableRef) (model.Payable, error)
	// Save writes payment_status, ready_for_payment_processing and payment_attempts
	// guarded by the payable's lock version. It returns domain.ErrStaleObject when the
	// version moved, and bumps the in-memory version on success.
	Save(ctx context.Context, tx Tx, p model.Payable) error
}
