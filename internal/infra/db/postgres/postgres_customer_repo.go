package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
)

var (
	_ repository.CustomerRepository         = (*customerRepo)(nil)
	_ repository.ProviderCustomerRepository = (*providerCustomerRepo)(nil)
)

type customerRepo struct{ pool *pgxpool.Pool }

func NewCustomerRepo(pool *pgxpool.Pool) *customerRepo {
	return &customerRepo{pool: pool}
}

func (r *customerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Customer, error) {
	const q = `
SELECT id, organization_id, external_id, customer_type, first_name, last_name, legal_name, email, phone,
       tax_id, address_line1, address_line2, payment_provider, payment_provider_code
  FROM customers WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		c       model.Customer
		gateway string
	)
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.ExternalID, &c.CustomerType, &c.FirstName, &c.LastName, &c.LegalName,
		&c.Email, &c.Phone, &c.TaxID, &c.AddressLine1, &c.AddressLine2, &gateway, &c.PaymentProviderCode); err != nil {
		return nil, mapScanErr(err)
	}
	c.PaymentProvider = model.GatewayKind(gateway)
	return &c, nil
}

func (r *customerRepo) Save(ctx context.Context, tx repository.Tx, c *model.Customer) error {
	const q = `
INSERT INTO customers (
  id, organization_id, external_id, customer_type, first_name, last_name, legal_name, email, phone,
  tax_id, address_line1, address_line2, payment_provider, payment_provider_code
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
) ON CONFLICT (id) DO UPDATE SET
  external_id=$3, customer_type=$4, first_name=$5, last_name=$6, legal_name=$7, email=$8, phone=$9,
  tax_id=$10, address_line1=$11, address_line2=$12, payment_provider=$13, payment_provider_code=$14;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.OrganizationID, c.ExternalID, c.CustomerType, c.FirstName, c.LastName,
		c.LegalName, c.Email, c.Phone, c.TaxID, c.AddressLine1, c.AddressLine2, string(c.PaymentProvider), c.PaymentProviderCode)
	return mapWriteErr(err)
}

type providerCustomerRepo struct{ pool *pgxpool.Pool }

func NewProviderCustomerRepo(pool *pgxpool.Pool) *providerCustomerRepo {
	return &providerCustomerRepo{pool: pool}
}

const providerCustomerColumns = `id, customer_id, payment_provider_id, gateway, provider_customer_id, payment_method_id, created_at, updated_at, deleted_at`

func (r *providerCustomerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProviderCustomer, error) {
	q := `SELECT ` + providerCustomerColumns + ` FROM payment_provider_customers WHERE id=$1` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanProviderCustomer(row)
}

func (r *providerCustomerRepo) FindByCustomer(ctx context.Context, tx repository.Tx, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error) {
	q := `SELECT ` + providerCustomerColumns + ` FROM payment_provider_customers
 WHERE customer_id=$1 AND gateway=$2 AND deleted_at IS NULL` + lockClause(tx) + `;`
	row, err := pickRow(ctx, r.pool, tx, q, customerID, string(kind))
	if err != nil {
		return nil, err
	}
	return scanProviderCustomer(row)
}

// Save upserts c by id. A second live row for the same (customer, gateway) violates the
// partial unique index and is reported as domain.ErrAlreadyExists.
func (r *providerCustomerRepo) Save(ctx context.Context, tx repository.Tx, c *model.PaymentProviderCustomer) error {
	if c.ID == "" {
		return domain.ErrInvalidArgument
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	const q = `
INSERT INTO payment_provider_customers (
  id, customer_id, payment_provider_id, gateway, provider_customer_id, payment_method_id, created_at, updated_at, deleted_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
) ON CONFLICT (id) DO UPDATE SET
  payment_provider_id=$3, provider_customer_id=$5, payment_method_id=$6, updated_at=$8, deleted_at=$9;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.CustomerID, c.PaymentProviderID, string(c.Gateway), c.ProviderCustomerID,
		c.PaymentMethodID, c.CreatedAt, c.UpdatedAt, c.DeletedAt)
	return mapWriteErr(err)
}

func scanProviderCustomer(row interface{ Scan(...interface{}) error }) (*model.PaymentProviderCustomer, error) {
	var (
		c       model.PaymentProviderCustomer
		gateway string
	)
	if err := row.Scan(&c.ID, &c.CustomerID, &c.PaymentProviderID, &gateway, &c.ProviderCustomerID, &c.PaymentMethodID,
		&c.CreatedAt, &c.UpdatedAt, &c.DeletedAt); err != nil {
		return nil, mapScanErr(err)
	}
	c.Gateway = model.GatewayKind(gateway)
	return &c, nil
}
