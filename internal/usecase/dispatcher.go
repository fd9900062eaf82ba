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

// EventHandler reconciles one event kind. Provider and gateway are resolved by the dispatcher.
type EventHandler func(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error)

type route struct {
	gateway model.GatewayKind
	kind    model.EventKind
}

// Dispatcher maps (gateway kind, event kind) to exactly one handler.
type Dispatcher struct {
	routes    map[route]EventHandler
	providers repository.PaymentProviderRepository
	gateways  adapter.GatewayRegistry
	log       *zerolog.Logger
}

// NewDispatcher registers the routes each gateway emits.
// moneyhash reports intents, transactions and stored cards; zarinpal and chapa report payments only.
func NewDispatcher(engine ReconcileUseCase, providers repository.PaymentProviderRepository, gateways adapter.GatewayRegistry, logger *zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		routes:    make(map[route]EventHandler),
		providers: providers,
		gateways:  gateways,
		log:       logger,
	}
	d.Handle(model.GatewayMoneyhash, model.EventPaymentIntentUpdated, engine.HandlePaymentIntent)
	d.Handle(model.GatewayMoneyhash, model.EventTransactionUpdated, engine.HandleTransaction)
	d.Handle(model.GatewayMoneyhash, model.EventPaymentMethodUpdated, engine.HandlePaymentMethod)
	d.Handle(model.GatewayZarinpal, model.EventPaymentIntentUpdated, engine.HandlePaymentIntent)
	d.Handle(model.GatewayChapa, model.EventPaymentIntentUpdated, engine.HandlePaymentIntent)
	return d
}

// Handle registers h, replacing any previous handler for the pair.
func (d *Dispatcher) Handle(gateway model.GatewayKind, kind model.EventKind, h EventHandler) {
	d.routes[route{gateway: gateway, kind: kind}] = h
}

// Route is the pure routing function.
func (d *Dispatcher) Route(gateway model.GatewayKind, kind model.EventKind) (EventHandler, bool) {
	h, ok := d.routes[route{gateway: gateway, kind: kind}]
	return h, ok
}

// Dispatch resolves the event's provider and gateway and runs its handler.
// Unrouted pairs are acknowledged with ResultIgnored and a nil error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *model.InboundEvent) (*Outcome, error) {
	log := logging.With(logging.WithGateway(ctx, string(ev.Gateway)), d.log)

	h, ok := d.Route(ev.Gateway, ev.Kind)
	if !ok {
		log.Info().Str("event_type", ev.Type).Str("kind", string(ev.Kind)).Msg("no handler for event; acknowledged")
		return &Outcome{Result: ResultIgnored}, nil
	}

	gw, err := d.gateways.Gateway(ev.Gateway)
	if err != nil {
		return nil, err
	}
	provider, err := d.providers.FindByID(ctx, repository.NoTX, ev.ProviderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotFound, ev.ProviderID)
	}
	if err != nil {
		return nil, err
	}
	if provider.OrganizationID != ev.OrganizationID || provider.Gateway != ev.Gateway {
		return nil, fmt.Errorf("%w: %s does not match event", domain.ErrProviderNotFound, ev.ProviderID)
	}
	return h(ctx, provider, gw, ev)
}
