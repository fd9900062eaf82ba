// File: internal/usecase/reconcile_uc.go
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
var _ ReconcileUseCase = (*reconcileUC)(nil)

// Outcome results.
const (
	ResultApplied = "applied"
	ResultNoop    = "noop"
	ResultStale   = "stale"
	ResultIgnored = "ignored"
)

// Outcome describes what one reconciliation step did.
type Outcome struct {
	Result   string
	Payment  *model.Payment
	Payable  model.Payable
	Previous model.CanonicalStatus
	Current  model.CanonicalStatus
	Created  bool
}

// Transitioned reports whether the payable's canonical status changed.
func (o *Outcome) Transitioned() bool {
	return o != nil && o.Result == ResultApplied && o.Previous != o.Current
}

// Attempt is the synchronous result of an outbound payment call.
type Attempt struct {
	Payable           model.PayableRef
	ProviderCustomer  *model.PaymentProviderCustomer
	ProviderPaymentID string // empty when the gateway rejected the call
	RawStatus         string
	ErrorCode         string
	ErrorMessage      string
}

// ReconcileUseCase is the single state-transition path shared by webhooks and the initiator.
type ReconcileUseCase interface {
	HandlePaymentIntent(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error)
	HandleTransaction(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error)
	HandlePaymentMethod(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error)

	RecordAttempt(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, a Attempt) (*Outcome, error)
	SetPayableStatus(ctx context.Context, ref model.PayableRef, status model.CanonicalStatus) (*Outcome, error)
	IncrementAttempts(ctx context.Context, ref model.PayableRef) error
}

type reconcileUC struct {
	payments  repository.PaymentRepository
	payables  repository.PayableRepository
	customers repository.ProviderCustomerRepository
	tm        repository.TransactionManager
	queue     adapter.TaskQueue
	retry     RetryPolicy
	log       *zerolog.Logger
}

func NewReconcileUseCase(
	payments repository.PaymentRepository,
	payables repository.PayableRepository,
	customers repository.ProviderCustomerRepository,
	tm repository.TransactionManager,
	queue adapter.TaskQueue,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *reconcileUC {
	return &reconcileUC{
		payments:  payments,
		payables:  payables,
		customers: customers,
		tm:        tm,
		queue:     queue,
		retry:     retry,
		log:       logger,
	}
}

// statusChange is one raw status observation for a gateway payment.
type statusChange struct {
	provider          *model.PaymentProvider
	gw                adapter.Gateway
	payable           model.PayableRef // known by the initiator; resolved from custom fields otherwise
	customFields      model.CustomFields
	providerCustomer  *model.PaymentProviderCustomer
	providerPaymentID string
	rawStatus         string
	// payableStatus overrides the canonical status written to the payable.
	payableStatus model.CanonicalStatus
	errorCode     string
	errorMessage  string
	lazyCreate    bool // row created from a webhook rather than by the initiator
	// unsignedFields marks custom fields the gateway signature does not cover; they may
	// not pick the payable for a new row.
	unsignedFields bool
}

func (u *reconcileUC) HandlePaymentIntent(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.HandlePaymentIntent")()
	if ev.ProviderPaymentID == "" {
		return nil, fmt.Errorf("%w: missing payment id", domain.ErrMalformedPayload)
	}
	return u.apply(ctx, statusChange{
		provider:          provider,
		gw:                gw,
		customFields:      ev.CustomFields,
		providerPaymentID: ev.ProviderPaymentID,
		rawStatus:         ev.RawStatus,
		errorCode:         ev.ErrorCode,
		errorMessage:      ev.ErrorMessage,
		lazyCreate:        true,
		unsignedFields:    ev.UnsignedCustomFields,
	})
}

// HandleTransaction applies a card-scheme level outcome to the intent it references.
// A failed transaction leaves the payment open while the payable is marked failed.
func (u *reconcileUC) HandleTransaction(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.HandleTransaction")()
	if ev.ProviderPaymentID == "" {
		return nil, fmt.Errorf("%w: missing intent id", domain.ErrMalformedPayload)
	}
	ch := statusChange{
		provider:          provider,
		gw:                gw,
		customFields:      ev.CustomFields,
		providerPaymentID: ev.ProviderPaymentID,
		rawStatus:         ev.RawStatus,
		errorCode:         ev.ErrorCode,
		errorMessage:      ev.ErrorMessage,
		lazyCreate:        true,
		unsignedFields:    ev.UnsignedCustomFields,
	}
	if ev.Outcome == model.TransactionFailed {
		ch.rawStatus = gw.OpenStatus()
		ch.payableStatus = model.StatusFailed
	}
	return u.apply(ctx, ch)
}

// HandlePaymentMethod stores the gateway's payment-method id on the provider customer.
func (u *reconcileUC) HandlePaymentMethod(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, ev *model.InboundEvent) (*Outcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.HandlePaymentMethod")()
	customerID := ev.CustomFields.CustomerID
	if customerID == "" || ev.PaymentMethodID == "" {
		return nil, fmt.Errorf("%w: missing customer or payment method id", domain.ErrMalformedPayload)
	}

	out := &Outcome{Result: ResultNoop}
	err := Retry(ctx, u.retry, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			pc, err := u.customers.FindByCustomer(ctx, tx, customerID, provider.Gateway)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("%w: customer %s", domain.ErrProviderCustomerMissing, customerID)
			}
			if err != nil {
				return err
			}
			if pc.PaymentProviderID != provider.ID {
				return fmt.Errorf("%w: customer %s not linked to provider %s", domain.ErrProviderCustomerMissing, customerID, provider.ID)
			}
			if pc.PaymentMethodID == ev.PaymentMethodID && (ev.ProviderCustomerID == "" || pc.ProviderCustomerID != "") {
				return nil
			}
			pc.PaymentMethodID = ev.PaymentMethodID
			if pc.ProviderCustomerID == "" {
				pc.ProviderCustomerID = ev.ProviderCustomerID
			}
			pc.UpdatedAt = time.Now()
			if err := u.customers.Save(ctx, tx, pc); err != nil {
				return err
			}
			out.Result = ResultApplied
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordAttempt writes the synchronous answer of an outbound call through the same
// transition path as webhooks.
func (u *reconcileUC) RecordAttempt(ctx context.Context, provider *model.PaymentProvider, gw adapter.Gateway, a Attempt) (*Outcome, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.RecordAttempt")()
	return u.apply(ctx, statusChange{
		provider:          provider,
		gw:                gw,
		payable:           a.Payable,
		providerCustomer:  a.ProviderCustomer,
		providerPaymentID: a.ProviderPaymentID,
		rawStatus:         a.RawStatus,
		errorCode:         a.ErrorCode,
		errorMessage:      a.ErrorMessage,
	})
}

// SetPayableStatus writes a canonical status to a payable and its dependents without a payment row.
func (u *reconcileUC) SetPayableStatus(ctx context.Context, ref model.PayableRef, status model.CanonicalStatus) (*Outcome, error) {
	var out *Outcome
	err := Retry(ctx, u.retry, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			p, err := u.findPayable(ctx, tx, ref)
			if err != nil {
				return err
			}
			prev := p.Status()
			if prev == model.StatusSucceeded && status != model.StatusSucceeded {
				return domain.ErrPayableAlreadySucceeded
			}
			if prev == status {
				out = &Outcome{Result: ResultNoop, Payable: p, Previous: prev, Current: status}
				return nil
			}
			if err := u.writePayable(ctx, tx, p, status); err != nil {
				return err
			}
			out = &Outcome{Result: ResultApplied, Payable: p, Previous: prev, Current: status}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	u.afterCommit(ctx, "", out)
	return out, nil
}

func (u *reconcileUC) IncrementAttempts(ctx context.Context, ref model.PayableRef) error {
	return Retry(ctx, u.retry, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			p, err := u.findPayable(ctx, tx, ref)
			if err != nil {
				return err
			}
			p.IncrementAttempts()
			return u.payables.Save(ctx, tx, p)
		})
	})
}

// apply runs one find-or-create plus status transition, retried on lock conflicts.
func (u *reconcileUC) apply(ctx context.Context, ch statusChange) (*Outcome, error) {
	var out *Outcome
	err := Retry(ctx, u.retry, func(ctx context.Context) error {
		return u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			o, err := u.transition(ctx, tx, ch)
			if err != nil {
				return err
			}
			out = o
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	u.afterCommit(ctx, ch.provider.Gateway, out)
	return out, nil
}

func (u *reconcileUC) transition(ctx context.Context, tx repository.Tx, ch statusChange) (*Outcome, error) {
	log := logging.With(ctx, u.log)

	var payment *model.Payment
	if ch.providerPaymentID != "" {
		p, err := u.payments.FindByProviderPaymentID(ctx, tx, ch.providerPaymentID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		payment = p
	}

	ref := ch.payable
	switch {
	case payment != nil:
		ref = payment.Payable
	case ref.ID == "" && ch.unsignedFields:
		// The initiator may not have recorded the row yet; retry until it has.
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentNotYetRecorded, ch.providerPaymentID)
	case ref.ID == "":
		r, err := ch.customFields.PayableRef()
		if err != nil {
			return nil, fmt.Errorf("%w: no payment %q and no payable reference", domain.ErrPayableNotFound, ch.providerPaymentID)
		}
		ref = r
	}

	payable, err := u.findPayable(ctx, tx, ref)
	if err != nil {
		return nil, err
	}
	if payable.OrganizationRef() != ch.provider.OrganizationID {
		return nil, fmt.Errorf("%w: %s outside organization", domain.ErrPayableNotFound, ref)
	}

	canonical := ch.gw.NormalizeStatus(ch.rawStatus).Coerce()
	target := canonical
	if ch.payableStatus != "" {
		target = ch.payableStatus
	}
	prev := payable.Status()

	if prev == model.StatusSucceeded {
		if payment != nil && payment.Status == ch.rawStatus && target == model.StatusSucceeded {
			return &Outcome{Result: ResultNoop, Payment: payment, Payable: payable, Previous: prev, Current: prev}, nil
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrPayableAlreadySucceeded, ref)
	}

	created := false
	now := time.Now()
	if payment == nil {
		payment = &model.Payment{
			ID:                uuid.NewString(),
			OrganizationID:    ch.provider.OrganizationID,
			Payable:           ref,
			PaymentProviderID: ch.provider.ID,
			Amount:            payable.Amount(),
			Currency:          payable.CurrencyCode(),
			ProviderPaymentID: ch.providerPaymentID,
			Status:            ch.rawStatus,
			PayableStatus:     canonical,
			ErrorCode:         ch.errorCode,
			ErrorMessage:      ch.errorMessage,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if pc, err := u.providerCustomer(ctx, tx, ch, payable); err == nil {
			payment.PaymentProviderCustomerID = pc.ID
		}
		err := u.payments.Create(ctx, tx, payment)
		switch {
		case err == nil:
			created = true
		case errors.Is(err, domain.ErrAlreadyExists):
			// A concurrent writer created the row first; continue from its state.
			existing, ferr := u.payments.FindByProviderPaymentID(ctx, tx, ch.providerPaymentID)
			if ferr != nil {
				return nil, ferr
			}
			if existing.Payable != ref {
				return nil, fmt.Errorf("%w: payment %s moved", domain.ErrStaleObject, ch.providerPaymentID)
			}
			payment = existing
		default:
			return nil, err
		}
	}

	if !created {
		if payment.Closed() {
			if payment.Status == ch.rawStatus {
				return &Outcome{Result: ResultNoop, Payment: payment, Payable: payable, Previous: prev, Current: prev}, nil
			}
			log.Warn().Str("payment_id", payment.ID).Str("status", payment.Status).Str("incoming", ch.rawStatus).Msg("ignoring status for closed payment")
			return &Outcome{Result: ResultStale, Payment: payment, Payable: payable, Previous: prev, Current: prev}, nil
		}
		if payment.Status == ch.rawStatus && payment.PayableStatus == canonical && prev == target {
			return &Outcome{Result: ResultNoop, Payment: payment, Payable: payable, Previous: prev, Current: prev}, nil
		}
		payment.Status = ch.rawStatus
		payment.PayableStatus = canonical
		if ch.errorCode != "" || ch.errorMessage != "" {
			payment.ErrorCode = ch.errorCode
			payment.ErrorMessage = ch.errorMessage
		}
		payment.UpdatedAt = now
		if err := u.payments.UpdateStatus(ctx, tx, payment); err != nil {
			return nil, err
		}
	} else if ch.lazyCreate {
		counted, err := u.attemptCounted(ctx, tx, payable)
		if err != nil {
			return nil, err
		}
		if !counted {
			payable.IncrementAttempts()
		}
	}

	if err := u.writePayable(ctx, tx, payable, target); err != nil {
		return nil, err
	}

	log.Debug().
		Str("payment_id", payment.ID).
		Str("payable", ref.String()).
		Str("raw_status", ch.rawStatus).
		Str("from", string(prev)).
		Str("to", string(target)).
		Bool("created", created).
		Msg("payment reconciled")

	return &Outcome{Result: ResultApplied, Payment: payment, Payable: payable, Previous: prev, Current: target, Created: created}, nil
}

// writePayable updates the payable and fans the same status out to its dependents.
func (u *reconcileUC) writePayable(ctx context.Context, tx repository.Tx, p model.Payable, status model.CanonicalStatus) error {
	p.ApplyStatus(status)
	if err := u.payables.Save(ctx, tx, p); err != nil {
		return err
	}
	for _, dep := range p.Dependents() {
		d, err := u.findPayable(ctx, tx, dep)
		if err != nil {
			return err
		}
		if d.Status() == status {
			continue
		}
		if d.Status() == model.StatusSucceeded {
			logging.With(ctx, u.log).Warn().Str("payable", p.Ref().String()).Str("dependent", dep.String()).Msg("dependent already succeeded; not reopened")
			continue
		}
		d.ApplyStatus(status)
		if err := u.payables.Save(ctx, tx, d); err != nil {
			return err
		}
	}
	return nil
}

// attemptCounted reports whether the payable's counter already covers every payment row,
// the one just created included. The initiator bumps the counter before sending, so a
// webhook that beats its RecordAttempt must not count the same attempt again.
func (u *reconcileUC) attemptCounted(ctx context.Context, tx repository.Tx, p model.Payable) (bool, error) {
	rows, err := u.payments.ListByPayable(ctx, tx, p.Ref())
	if err != nil {
		return false, err
	}
	return p.Attempts() >= len(rows), nil
}

func (u *reconcileUC) findPayable(ctx context.Context, tx repository.Tx, ref model.PayableRef) (model.Payable, error) {
	p, err := u.payables.Find(ctx, tx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrPayableNotFound, ref)
	}
	return p, err
}

func (u *reconcileUC) providerCustomer(ctx context.Context, tx repository.Tx, ch statusChange, p model.Payable) (*model.PaymentProviderCustomer, error) {
	if ch.providerCustomer != nil {
		return ch.providerCustomer, nil
	}
	return u.customers.FindByCustomer(ctx, tx, p.CustomerRef(), ch.provider.Gateway)
}

// afterCommit schedules the failure notification once the transition is durable.
func (u *reconcileUC) afterCommit(ctx context.Context, gateway model.GatewayKind, out *Outcome) {
	if !out.Transitioned() || out.Current != model.StatusFailed {
		return
	}
	ref := out.Payable.Ref()
	n := adapter.Notification{
		Event:          adapter.EventPaymentFailed,
		OrganizationID: out.Payable.OrganizationRef(),
		SubjectType:    string(ref.Type),
		SubjectID:      ref.ID,
		Detail: map[string]any{
			"customer_id": out.Payable.CustomerRef(),
			"amount":      out.Payable.Amount(),
			"currency":    out.Payable.CurrencyCode(),
		},
		OccurredAt: time.Now().UTC(),
	}
	dedup := "notify:" + ref.String() + ":" + string(model.StatusFailed)
	if p := out.Payment; p != nil {
		n.Detail["payment_id"] = p.ID
		n.Detail["provider_payment_id"] = p.ProviderPaymentID
		n.Detail["provider_customer_id"] = p.PaymentProviderCustomerID
		n.Detail["gateway"] = string(gateway)
		n.Detail["status"] = p.Status
		if p.ErrorCode != "" || p.ErrorMessage != "" {
			n.Event = adapter.EventPaymentProviderError
			n.Detail["error_code"] = p.ErrorCode
			n.Detail["error_message"] = p.ErrorMessage
		}
		dedup = "notify:" + p.ID + ":" + string(model.StatusFailed)
	}
	if _, err := u.queue.Enqueue(ctx, adapter.TaskNotificationDeliver, n, dedup); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("payable", ref.String()).Msg("failed to schedule failure notification")
	}
}
