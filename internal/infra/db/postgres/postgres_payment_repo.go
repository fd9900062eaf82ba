package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, organization_id, payable_type, payable_id, payment_provider_id,
  COALESCE(payment_provider_customer_id, ''), amount_cents, currency, COALESCE(provider_payment_id, ''),
  status, payable_payment_status, error_code, error_message, created_at, updated_at`

// Create inserts p. A row that already holds p.ProviderPaymentID makes the insert a no-op,
// reported as domain.ErrAlreadyExists without aborting the surrounding transaction.
func (r *paymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, organization_id, payable_type, payable_id, payment_provider_id, payment_provider_customer_id,
  amount_cents, currency, provider_payment_id, status, payable_payment_status, error_code, error_message,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
) ON CONFLICT (provider_payment_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.OrganizationID, string(p.Payable.Type), p.Payable.ID, p.PaymentProviderID, nullIfEmpty(p.PaymentProviderCustomerID),
		p.Amount, p.Currency, nullIfEmpty(p.ProviderPaymentID), p.Status, string(p.PayableStatus), p.ErrorCode, p.ErrorMessage,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1` + lockClause(tx) + `;`
	return r.findOne(ctx, tx, q, id)
}

func (r *paymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, providerPaymentID string) (*model.Payment, error) {
	if providerPaymentID == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_payment_id=$1` + lockClause(tx) + `;`
	return r.findOne(ctx, tx, q, providerPaymentID)
}

func (r *paymentRepo) findOne(ctx context.Context, tx repository.Tx, q string, arg interface{}) (*model.Payment, error) {
	row, err := pickRow(ctx, r.pool, tx, q, arg)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		return nil, mapScanErr(err)
	}
	return p, nil
}

func (r *paymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
UPDATE payments
   SET status=$2, payable_payment_status=$3, error_code=$4, error_message=$5, updated_at=$6
 WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, p.ID, p.Status, string(p.PayableStatus), p.ErrorCode, p.ErrorMessage, p.UpdatedAt)
	if err != nil {
		return mapWriteErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListByPayable(ctx context.Context, tx repository.Tx, ref model.PayableRef) ([]*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE payable_type=$1 AND payable_id=$2 ORDER BY created_at ASC;`
	return r.list(ctx, tx, q, string(ref.Type), ref.ID)
}

func (r *paymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE payable_payment_status='pending' AND created_at < $1 ORDER BY created_at ASC LIMIT $2;`
	return r.list(ctx, tx, q, olderThan, limit)
}

func (r *paymentRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Payment, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		switch err {
		case domain.ErrInvalidArgument, domain.ErrInvalidExecContext:
			return nil, err
		default:
			return nil, domain.ErrOperationFailed
		}
	}
	defer rows.Close()

	var out []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	return out, nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p             model.Payment
		payableType   string
		payableStatus string
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &payableType, &p.Payable.ID, &p.PaymentProviderID,
		&p.PaymentProviderCustomerID, &p.Amount, &p.Currency, &p.ProviderPaymentID,
		&p.Status, &payableStatus, &p.ErrorCode, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Payable.Type = model.PayableType(payableType)
	p.PayableStatus = model.CanonicalStatus(payableStatus)
	return &p, nil
}
