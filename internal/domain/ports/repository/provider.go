package repository

import (
	"context"

	"gateway-reconciler/internal/domain/model"
)

type OrganizationRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Organization, error)
}

type PaymentProviderRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentProvider, error)
	// FindByCode resolves a provider by (organization, code, gateway kind). An empty
	// code matches only when the organization has exactly one provider of that kind.
	FindByCode(ctx context.Context, tx Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error)
	Save(ctx context.Context, tx Tx, p *model.PaymentProvider) error
}

type CustomerRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.Customer, error)
}

type ProviderCustomerRepository interface {
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentProviderCustomer, error)
	// FindByCustomer returns the non-deleted row for (customer, gateway kind).
	FindByCustomer(ctx context.Context, tx Tx, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error)
	Save(ctx context.Context, tx Tx, c *model.PaymentProviderCustomer) error
}
