package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/logging"
)

// Compile-time check
var _ ProviderCustomerUseCase = (*providerCustomerUC)(nil)

type ProviderCustomerUseCase interface {
	// EnsureProviderCustomer creates the gateway-side customer when it does not exist yet.
	EnsureProviderCustomer(ctx context.Context, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error)
}

type providerCustomerUC struct {
	customers repository.CustomerRepository
	pcs       repository.ProviderCustomerRepository
	providers repository.PaymentProviderRepository
	gateways  adapter.GatewayRegistry
	tm        repository.TransactionManager
	queue     adapter.TaskQueue
	log       *zerolog.Logger
}

func NewProviderCustomerUseCase(
	customers repository.CustomerRepository,
	pcs repository.ProviderCustomerRepository,
	providers repository.PaymentProviderRepository,
	gateways adapter.GatewayRegistry,
	tm repository.TransactionManager,
	queue adapter.TaskQueue,
	logger *zerolog.Logger,
) *providerCustomerUC {
	return &providerCustomerUC{
		customers: customers,
		pcs:       pcs,
		providers: providers,
		gateways:  gateways,
		tm:        tm,
		queue:     queue,
		log:       logger,
	}
}

func (u *providerCustomerUC) EnsureProviderCustomer(ctx context.Context, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error) {
	defer logging.TraceDuration(u.log, "ProviderCustomerUC.EnsureProviderCustomer")()
	log := logging.With(ctx, u.log)

	customer, err := u.customers.FindByID(ctx, repository.NoTX, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: customer %s", domain.ErrInvalidArgument, customerID)
		}
		return nil, err
	}
	provider, err := u.providers.FindByCode(ctx, repository.NoTX, customer.OrganizationID, customer.PaymentProviderCode, kind)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrProviderNotFound
		}
		return nil, err
	}

	pc, err := u.pcs.FindByCustomer(ctx, repository.NoTX, customer.ID, kind)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if pc != nil && pc.ProviderCustomerID != "" {
		return pc, nil
	}

	gw, err := u.gateways.Gateway(kind)
	if err != nil {
		return nil, err
	}
	// Gateways without a customer API are keyed by the merchant-side customer reference.
	providerCustomerID := customer.ExternalID
	if creator, ok := gw.(adapter.CustomerCreator); ok {
		providerCustomerID, err = creator.CreateCustomer(ctx, provider, customer)
		if err != nil {
			u.notify(ctx, adapter.EventCustomerProviderError, customer, map[string]any{
				"gateway": string(kind),
				"error":   err.Error(),
			})
			var ge *domain.GatewayError
			if errors.As(err, &ge) {
				log.Warn().Err(err).Str("customer_id", customer.ID).Msg("gateway rejected customer creation")
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
		}
	}

	var saved *model.PaymentProviderCustomer
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		cur, err := u.pcs.FindByCustomer(ctx, tx, customer.ID, kind)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		now := time.Now()
		if cur == nil {
			cur = &model.PaymentProviderCustomer{
				ID:                uuid.NewString(),
				CustomerID:        customer.ID,
				PaymentProviderID: provider.ID,
				Gateway:           kind,
				CreatedAt:         now,
			}
		}
		if cur.ProviderCustomerID == "" {
			cur.ProviderCustomerID = providerCustomerID
		}
		cur.UpdatedAt = now
		saved = cur
		return u.pcs.Save(ctx, tx, cur)
	})
	if err != nil {
		return nil, err
	}

	u.notify(ctx, adapter.EventCustomerProviderCreated, customer, map[string]any{
		"gateway":              string(kind),
		"provider_customer_id": saved.ProviderCustomerID,
	})
	log.Info().Str("customer_id", customer.ID).Str("gateway", string(kind)).Msg("provider customer created")
	return saved, nil
}

func (u *providerCustomerUC) notify(ctx context.Context, event string, c *model.Customer, detail map[string]any) {
	n := adapter.Notification{
		Event:          event,
		OrganizationID: c.OrganizationID,
		SubjectType:    "Customer",
		SubjectID:      c.ID,
		Detail:         detail,
		OccurredAt:     time.Now().UTC(),
	}
	if _, err := u.queue.Enqueue(ctx, adapter.TaskNotificationDeliver, n, ""); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("event", event).Msg("failed to schedule notification")
	}
}
