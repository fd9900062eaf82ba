package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/repository"
)

var _ repository.OrganizationRepository = (*organizationRepo)(nil)

type organizationRepo struct{ pool *pgxpool.Pool }

func NewOrganizationRepo(pool *pgxpool.Pool) *organizationRepo {
	return &organizationRepo{pool: pool}
}

func (r *organizationRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	const q = `SELECT id, name FROM organizations WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var o model.Organization
	if err := row.Scan(&o.ID, &o.Name); err != nil {
		return nil, mapScanErr(err)
	}
	return &o, nil
}

func (r *organizationRepo) Save(ctx context.Context, tx repository.Tx, o *model.Organization) error {
	const q = `INSERT INTO organizations (id, name) VALUES ($1,$2) ON CONFLICT (id) DO UPDATE SET name=$2;`
	_, err := execSQL(ctx, r.pool, tx, q, o.ID, o.Name)
	return mapWriteErr(err)
}
