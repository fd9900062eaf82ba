package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
)

var _ repository.PayableRepository = (*payableRepo)(nil)

// payableRepo stores invoices and payment requests. Writes are guarded by lock_version.
type payableRepo struct{ pool *pgxpool.Pool }

func NewPayableRepo(pool *pgxpool.Pool) *payableRepo {
	return &payableRepo{pool: pool}
}

func (r *payableRepo) Find(ctx context.Context, tx repository.Tx, ref model.PayableRef) (model.Payable, error) {
	switch ref.Type {
	case model.PayableInvoice:
		return r.findInvoice(ctx, tx, ref.ID)
	case model.PayablePaymentRequest:
		return r.findPaymentRequest(ctx, tx, ref.ID)
	default:
		return nil, fmt.Errorf("%w: payable type %q", domain.ErrInvalidArgument, ref.Type)
	}
}

func (r *payableRepo) findInvoice(ctx context.Context, tx repository.Tx, id string) (*model.Invoice, error) {
	q := `
SELECT id, organization_id, customer_id, invoice_type, total_amount_cents, currency, payment_status,
       ready_for_payment_processing, payment_attempts, subscription_external_id, plan_id, lock_version, updated_at
  FROM invoices WHERE id=$1` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		inv    model.Invoice
		typ    string
		status string
	)
	if err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.CustomerID, &typ, &inv.TotalAmountCents, &inv.Currency, &status,
		&inv.ReadyForPaymentProcessing, &inv.PaymentAttempts, &inv.SubscriptionExternalID, &inv.PlanID, &inv.LockVersion, &inv.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	inv.InvoiceType = model.InvoiceType(typ)
	inv.PaymentStatus = model.CanonicalStatus(status)
	return &inv, nil
}

func (r *payableRepo) findPaymentRequest(ctx context.Context, tx repository.Tx, id string) (*model.PaymentRequest, error) {
	q := `
SELECT id, organization_id, customer_id, email, amount_cents, currency, payment_status,
       ready_for_payment_processing, payment_attempts, lock_version, updated_at
  FROM payment_requests WHERE id=$1` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		pr     model.PaymentRequest
		status string
	)
	if err := row.Scan(&pr.ID, &pr.OrganizationID, &pr.CustomerID, &pr.Email, &pr.AmountCents, &pr.Currency, &status,
		&pr.ReadyForPaymentProcessing, &pr.PaymentAttempts, &pr.LockVersion, &pr.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	pr.PaymentStatus = model.CanonicalStatus(status)

	const iq = `
SELECT i.id, i.subscription_external_id, i.plan_id
  FROM invoices_payment_requests ipr
  JOIN invoices i ON i.id = ipr.invoice_id
 WHERE ipr.payment_request_id=$1
 ORDER BY ipr.position ASC, i.id ASC;`
	rows, err := queryRows(ctx, r.pool, tx, iq, pr.ID)
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	for rows.Next() {
		var invID, subID, planID string
		if err := rows.Scan(&invID, &subID, &planID); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		if len(pr.InvoiceIDs) == 0 {
			pr.SubscriptionExternalID, pr.PlanID = subID, planID
		}
		pr.InvoiceIDs = append(pr.InvoiceIDs, invID)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return &pr, nil
}

// Save writes the payment fields of p when its lock_version still matches, then bumps
// the in-memory version.
func (r *payableRepo) Save(ctx context.Context, tx repository.Tx, p model.Payable) error {
	now := time.Now()
	switch v := p.(type) {
	case *model.Invoice:
		const q = `
UPDATE invoices
   SET payment_status=$3, ready_for_payment_processing=$4, payment_attempts=$5,
       lock_version=lock_version+1, updated_at=$6
 WHERE id=$1 AND lock_version=$2;`
		if err := r.guardedUpdate(ctx, tx, q, v.ID, v.LockVersion, string(v.PaymentStatus), v.ReadyForPaymentProcessing, v.PaymentAttempts, now); err != nil {
			return err
		}
		v.LockVersion++
		v.UpdatedAt = now
	case *model.PaymentRequest:
		const q = `
UPDATE payment_requests
   SET payment_status=$3, ready_for_payment_processing=$4, payment_attempts=$5,
       lock_version=lock_version+1, updated_at=$6
 WHERE id=$1 AND lock_version=$2;`
		if err := r.guardedUpdate(ctx, tx, q, v.ID, v.LockVersion, string(v.PaymentStatus), v.ReadyForPaymentProcessing, v.PaymentAttempts, now); err != nil {
			return err
		}
		v.LockVersion++
		v.UpdatedAt = now
	default:
		return fmt.Errorf("%w: payable %T", domain.ErrInvalidArgument, p)
	}
	return nil
}

func (r *payableRepo) guardedUpdate(ctx context.Context, tx repository.Tx, q string, args ...interface{}) error {
	cmd, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrStaleObject
	}
	return nil
}

// CreateInvoice inserts an invoice. Used by the seed command and tests.
func (r *payableRepo) CreateInvoice(ctx context.Context, tx repository.Tx, inv *model.Invoice) error {
	const q = `
INSERT INTO invoices (
  id, organization_id, customer_id, invoice_type, total_amount_cents, currency, payment_status,
  ready_for_payment_processing, payment_attempts, subscription_external_id, plan_id, lock_version, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	_, err := execSQL(ctx, r.pool, tx, q, inv.ID, inv.OrganizationID, inv.CustomerID, string(inv.InvoiceType), inv.TotalAmountCents,
		inv.Currency, string(inv.PaymentStatus), inv.ReadyForPaymentProcessing, inv.PaymentAttempts, inv.SubscriptionExternalID,
		inv.PlanID, inv.LockVersion, inv.UpdatedAt)
	return mapWriteErr(err)
}

// CreatePaymentRequest inserts a payment request and links its invoices in order.
func (r *payableRepo) CreatePaymentRequest(ctx context.Context, tx repository.Tx, pr *model.PaymentRequest) error {
	const q = `
INSERT INTO payment_requests (
  id, organization_id, customer_id, email, amount_cents, currency, payment_status,
  ready_for_payment_processing, payment_attempts, lock_version, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`
	if _, err := execSQL(ctx, r.pool, tx, q, pr.ID, pr.OrganizationID, pr.CustomerID, pr.Email, pr.AmountCents, pr.Currency,
		string(pr.PaymentStatus), pr.ReadyForPaymentProcessing, pr.PaymentAttempts, pr.LockVersion, pr.UpdatedAt); err != nil {
		return mapWriteErr(err)
	}
	const lq = `INSERT INTO invoices_payment_requests (payment_request_id, invoice_id, position) VALUES ($1,$2,$3);`
	for i, invID := range pr.InvoiceIDs {
		if _, err := execSQL(ctx, r.pool, tx, lq, pr.ID, invID, i); err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}
