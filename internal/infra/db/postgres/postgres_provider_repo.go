package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
)

var _ repository.PaymentProviderRepository = (*providerRepo)(nil)

// SecretCipher encrypts provider credentials at rest.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// providerRepo stores payment providers. api_key and webhook_secret are encrypted when a
// cipher is configured and returned decrypted.
type providerRepo struct {
	pool   *pgxpool.Pool
	cipher SecretCipher
}

func NewProviderRepo(pool *pgxpool.Pool, cipher SecretCipher) *providerRepo {
	return &providerRepo{pool: pool, cipher: cipher}
}

const providerColumns = `id, organization_id, code, name, gateway, api_key, webhook_secret, environment, settings, created_at, updated_at`

func (r *providerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error) {
	q := `SELECT ` + providerColumns + ` FROM payment_providers WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return r.scan(row)
}

func (r *providerRepo) FindByCode(ctx context.Context, tx repository.Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error) {
	if code != "" {
		q := `SELECT ` + providerColumns + ` FROM payment_providers WHERE organization_id=$1 AND code=$2 AND gateway=$3;`
		row, err := pickRow(ctx, r.pool, tx, q, organizationID, code, string(kind))
		if err != nil {
			return nil, err
		}
		return r.scan(row)
	}

	// Without a code the lookup is only unambiguous for a single provider of that kind.
	q := `SELECT ` + providerColumns + ` FROM payment_providers WHERE organization_id=$1 AND gateway=$2 ORDER BY created_at LIMIT 2;`
	rows, err := queryRows(ctx, r.pool, tx, q, organizationID, string(kind))
	if err != nil {
		return nil, domain.ErrOperationFailed
	}
	defer rows.Close()
	var found []*model.PaymentProvider
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, p)
	}
	if rows.Err() != nil {
		return nil, domain.ErrOperationFailed
	}
	if len(found) != 1 {
		return nil, domain.ErrNotFound
	}
	return found[0], nil
}

// Save upserts p by id, encrypting its secrets.
func (r *providerRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentProvider) error {
	apiKey, err := r.seal(p.APIKey)
	if err != nil {
		return err
	}
	secret, err := r.seal(p.WebhookSecret)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("%w: settings: %v", domain.ErrInvalidArgument, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()

	const q = `
INSERT INTO payment_providers (
  id, organization_id, code, name, gateway, api_key, webhook_secret, environment, settings, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (id) DO UPDATE SET
  code=$3, name=$4, gateway=$5, api_key=$6, webhook_secret=$7, environment=$8, settings=$9, updated_at=$11;`
	_, err = execSQL(ctx, r.pool, tx, q, p.ID, p.OrganizationID, p.Code, p.Name, string(p.Gateway), apiKey, secret,
		string(p.Environment), settings, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

func (r *providerRepo) scan(row interface{ Scan(...interface{}) error }) (*model.PaymentProvider, error) {
	var (
		p        model.PaymentProvider
		gateway  string
		env      string
		settings []byte
	)
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.Code, &p.Name, &gateway, &p.APIKey, &p.WebhookSecret, &env, &settings, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	p.Gateway = model.GatewayKind(gateway)
	p.Environment = model.Environment(env)
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &p.Settings); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	var err error
	if p.APIKey, err = r.open(p.APIKey); err != nil {
		return nil, err
	}
	if p.WebhookSecret, err = r.open(p.WebhookSecret); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *providerRepo) seal(s string) (string, error) {
	if r.cipher == nil || s == "" {
		return s, nil
	}
	out, err := r.cipher.Encrypt(s)
	if err != nil {
		return "", fmt.Errorf("encrypt provider secret: %w", err)
	}
	return out, nil
}

func (r *providerRepo) open(s string) (string, error) {
	if r.cipher == nil || s == "" {
		return s, nil
	}
	out, err := r.cipher.Decrypt(s)
	if err != nil {
		return "", fmt.Errorf("decrypt provider secret: %w", err)
	}
	return out, nil
}
