// File: internal/usecase/initiator_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/logging"
)

// Compile-time check
var _ InitiatorUseCase = (*initiatorUC)(nil)

// ChargeResult is the structured answer of an outbound charge.
// A gateway rejection is a business failure: Status is failed and err is nil.
type ChargeResult struct {
	Payable      model.PayableRef
	Gateway      model.GatewayKind
	Payment      *model.Payment
	Status       model.CanonicalStatus
	GatewayCode  string
	GatewayError string
	ZeroAmount   bool
}

type InitiatorUseCase interface {
	// Charge sends a merchant-initiated payment for the payable through the customer's gateway.
	Charge(ctx context.Context, ref model.PayableRef) (*ChargeResult, error)
}

type initiatorUC struct {
	payables  repository.PayableRepository
	customers repository.CustomerRepository
	pcs       repository.ProviderCustomerRepository
	providers repository.PaymentProviderRepository
	gateways  adapter.GatewayRegistry
	engine    ReconcileUseCase
	publicURL string
	log       *zerolog.Logger
}

func NewInitiatorUseCase(
	payables repository.PayableRepository,
	customers repository.CustomerRepository,
	pcs repository.ProviderCustomerRepository,
	providers repository.PaymentProviderRepository,
	gateways adapter.GatewayRegistry,
	engine ReconcileUseCase,
	publicURL string,
	logger *zerolog.Logger,
) *initiatorUC {
	return &initiatorUC{
		payables:  payables,
		customers: customers,
		pcs:       pcs,
		providers: providers,
		gateways:  gateways,
		engine:    engine,
		publicURL: publicURL,
		log:       logger,
	}
}

func paymentMethodError(field string) error {
	return &domain.ValidationError{Field: field, Code: domain.CodePaymentMethodError}
}

func (u *initiatorUC) Charge(ctx context.Context, ref model.PayableRef) (*ChargeResult, error) {
	defer logging.TraceDuration(u.log, "InitiatorUC.Charge")()
	log := logging.With(ctx, u.log)

	payable, err := u.payables.Find(ctx, repository.NoTX, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPayableNotFound, ref)
		}
		return nil, err
	}
	if payable.Status() == model.StatusSucceeded {
		return nil, paymentMethodError("payable")
	}

	provider, gw, pc, err := u.resolve(ctx, payable)
	if err != nil {
		return nil, err
	}

	if payable.Amount() <= 0 {
		if _, err := u.engine.SetPayableStatus(ctx, ref, model.StatusSucceeded); err != nil {
			return nil, err
		}
		return &ChargeResult{Payable: ref, Gateway: provider.Gateway, Status: model.StatusSucceeded, ZeroAmount: true}, nil
	}

	req, err := gw.BuildPaymentRequest(adapter.ChargeInput{
		Payable:          payable,
		ProviderCustomer: pc,
		Provider:         provider,
		WebhookURL:       provider.WebhookEndpoint(u.publicURL),
	})
	if err != nil {
		return nil, err
	}

	if err := u.engine.IncrementAttempts(ctx, ref); err != nil {
		return nil, err
	}

	resp, sendErr := gw.SendPayment(ctx, provider, req)
	if sendErr != nil {
		return u.recordFailure(ctx, provider, gw, pc, ref, sendErr)
	}

	out, err := u.engine.RecordAttempt(ctx, provider, gw, Attempt{
		Payable:           ref,
		ProviderCustomer:  pc,
		ProviderPaymentID: resp.ProviderPaymentID,
		RawStatus:         resp.Status,
	})
	if err != nil {
		// The gateway holds the attempt now. Rerunning the task would charge again, so
		// the gateway's own webhook is left to reconcile it.
		log.Error().Err(err).
			Str("payable", ref.String()).
			Str("provider_payment_id", resp.ProviderPaymentID).
			Msg("charge accepted but not recorded")
		return nil, fmt.Errorf("%w: %s as %s: %w", domain.ErrChargeNotRecorded, ref, resp.ProviderPaymentID, err)
	}
	log.Info().
		Str("payable", ref.String()).
		Str("provider_payment_id", resp.ProviderPaymentID).
		Str("status", resp.Status).
		Msg("payment created")
	return &ChargeResult{Payable: ref, Gateway: provider.Gateway, Payment: out.Payment, Status: out.Current}, nil
}

// resolve checks the charge preconditions without contacting the gateway.
func (u *initiatorUC) resolve(ctx context.Context, payable model.Payable) (*model.PaymentProvider, adapter.Gateway, *model.PaymentProviderCustomer, error) {
	customer, err := u.customers.FindByID(ctx, repository.NoTX, payable.CustomerRef())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: customer %s", domain.ErrInvalidArgument, payable.CustomerRef())
		}
		return nil, nil, nil, err
	}
	if customer.PaymentProvider == "" {
		return nil, nil, nil, paymentMethodError("provider")
	}
	provider, err := u.providers.FindByCode(ctx, repository.NoTX, customer.OrganizationID, customer.PaymentProviderCode, customer.PaymentProvider)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrProviderNotFound) {
			return nil, nil, nil, paymentMethodError("provider")
		}
		return nil, nil, nil, err
	}
	gw, err := u.gateways.Gateway(provider.Gateway)
	if err != nil {
		return nil, nil, nil, paymentMethodError("provider")
	}

	pc, err := u.pcs.FindByCustomer(ctx, repository.NoTX, customer.ID, provider.Gateway)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, nil, err
	}
	if pc == nil || pc.ProviderCustomerID == "" {
		return nil, nil, nil, paymentMethodError("provider_customer_id")
	}
	if pc.PaymentMethodID == "" {
		return nil, nil, nil, paymentMethodError("payment_method_id")
	}
	return provider, gw, pc, nil
}

// recordFailure keeps a failed payment row for the attempt and marks the payable failed.
// Gateway rejections are returned as a result; network errors stay retryable.
func (u *initiatorUC) recordFailure(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, pc *model.PaymentProviderCustomer, ref model.PayableRef, sendErr error) (*ChargeResult, error) {
	a := Attempt{
		Payable:          ref,
		ProviderCustomer: pc,
		RawStatus:        gw.FailedStatus(),
	}
	var ge *domain.GatewayError
	if errors.As(sendErr, &ge) {
		a.ErrorCode = ge.Code
		if a.ErrorCode == "" {
			a.ErrorCode = fmt.Sprintf("http_%d", ge.HTTPStatus)
		}
		a.ErrorMessage = ge.Body
	} else {
		a.ErrorCode = "network_error"
		a.ErrorMessage = sendErr.Error()
	}

	logging.With(ctx, u.log).Warn().Err(sendErr).Str("payable", ref.String()).Msg("gateway rejected payment")

	out, err := u.engine.RecordAttempt(ctx, provider, gw, a)
	if err != nil {
		return nil, err
	}
	res := &ChargeResult{
		Payable:      ref,
		Gateway:      provider.Gateway,
		Payment:      out.Payment,
		Status:       model.StatusFailed,
		GatewayCode:  a.ErrorCode,
		GatewayError: a.ErrorMessage,
	}
	if ge == nil {
		return res, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, sendErr)
	}
	return res, nil
}
