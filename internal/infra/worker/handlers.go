package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/infra/logging"
	"gateway-reconciler/internal/infra/metrics"
	"gateway-reconciler/internal/usecase"
)

// EventDispatcher routes a verified webhook event to its reconciliation handler.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev *model.InboundEvent) (*usecase.Outcome, error)
}

// Handlers binds task kinds to use cases.
type Handlers struct {
	Dispatcher        EventDispatcher
	Initiator         usecase.InitiatorUseCase
	ProviderCustomers usecase.ProviderCustomerUseCase
	Notifications     usecase.NotificationUseCase
	Log               *zerolog.Logger
}

// Register installs a handler for every task kind with a configured use case.
func (h *Handlers) Register(p *Processor) {
	if h.Dispatcher != nil {
		p.Register(adapter.TaskWebhookEvent, h.WebhookEvent)
	}
	if h.Initiator != nil {
		p.Register(adapter.TaskPaymentCharge, h.PaymentCharge)
	}
	if h.ProviderCustomers != nil {
		p.Register(adapter.TaskProviderCustomerCreate, h.ProviderCustomerCreate)
	}
	if h.Notifications != nil {
		p.Register(adapter.TaskNotificationDeliver, h.NotificationDeliver)
	}
}

func decode(t *adapter.Task, v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrMalformedPayload, t.Kind, err)
	}
	return nil
}

func (h *Handlers) WebhookEvent(ctx context.Context, t *adapter.Task) error {
	var ev model.InboundEvent
	if err := decode(t, &ev); err != nil {
		return err
	}
	ctx = logging.WithOrgID(ctx, ev.OrganizationID)
	ctx = logging.WithGateway(ctx, string(ev.Gateway))

	out, err := h.Dispatcher.Dispatch(ctx, &ev)
	if err != nil {
		metrics.IncReconcile(string(ev.Kind), "error")
		return err
	}
	if out == nil {
		out = &usecase.Outcome{Result: usecase.ResultNoop}
	}
	metrics.IncReconcile(string(ev.Kind), out.Result)
	if out.Transitioned() {
		metrics.IncTransition(string(ev.Gateway), string(out.Previous), string(out.Current))
	}
	logging.With(ctx, h.Log).Debug().
		Str("event_type", ev.Type).
		Str("result", out.Result).
		Str("provider_payment_id", ev.ProviderPaymentID).
		Msg("webhook event reconciled")
	return nil
}

func (h *Handlers) PaymentCharge(ctx context.Context, t *adapter.Task) error {
	var in adapter.ChargeTaskPayload
	if err := decode(t, &in); err != nil {
		return err
	}
	ref, err := model.NewPayableRef(in.PayableType, in.PayableID)
	if err != nil {
		return fmt.Errorf("%w: payable %s/%s", err, in.PayableType, in.PayableID)
	}
	res, err := h.Initiator.Charge(ctx, ref)
	if err != nil {
		return err
	}
	result := string(res.Status)
	if res.ZeroAmount {
		result = "zero_amount"
	}
	metrics.IncPayment(string(res.Gateway), result)
	return nil
}

func (h *Handlers) ProviderCustomerCreate(ctx context.Context, t *adapter.Task) error {
	var in adapter.ProviderCustomerTaskPayload
	if err := decode(t, &in); err != nil {
		return err
	}
	kind, ok := model.ParseGatewayKind(in.Gateway)
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownGateway, in.Gateway)
	}
	_, err := h.ProviderCustomers.EnsureProviderCustomer(ctx, in.CustomerID, kind)
	return err
}

func (h *Handlers) NotificationDeliver(ctx context.Context, t *adapter.Task) error {
	var n adapter.Notification
	if err := decode(t, &n); err != nil {
		return err
	}
	return h.Notifications.Deliver(ctx, n)
}
