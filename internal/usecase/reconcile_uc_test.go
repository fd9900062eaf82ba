//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/usecase"
)

func TestReconcileUseCase_HandlePaymentIntent(t *testing.T) {
	ctx := context.Background()

	t.Run("should move payable to succeeded on PROCESSED and stay unchanged on replay", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		ev := intentEvent("intent-1", "PENDING", inv.Ref())
		if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev); err != nil {
			t.Fatalf("expected no error on PENDING, but got: %v", err)
		}

		// --- Act ---
		processed := intentEvent("intent-1", "PROCESSED", inv.Ref())
		out, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, processed)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Result != usecase.ResultApplied {
			t.Errorf("expected result 'applied', but got '%s'", out.Result)
		}
		p, _ := f.payments.FindByProviderPaymentID(ctx, nil, "intent-1")
		if p.Status != "PROCESSED" || p.PayableStatus != model.StatusSucceeded {
			t.Errorf("expected payment PROCESSED/succeeded, but got %s/%s", p.Status, p.PayableStatus)
		}
		got := f.payables.Get(inv.Ref()).(*model.Invoice)
		if got.PaymentStatus != model.StatusSucceeded {
			t.Errorf("expected invoice status 'succeeded', but got '%s'", got.PaymentStatus)
		}
		if got.ReadyForPaymentProcessing {
			t.Error("expected ready_for_payment_processing to be false")
		}

		// --- Replay ---
		saves := f.payables.Saves
		replay, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, processed)
		if err != nil {
			t.Fatalf("expected replay to succeed, but got: %v", err)
		}
		if replay.Result != usecase.ResultNoop {
			t.Errorf("expected replay result 'noop', but got '%s'", replay.Result)
		}
		if f.payables.Saves != saves {
			t.Error("expected replay to write nothing")
		}
		if n := len(f.payments.All()); n != 1 {
			t.Errorf("expected exactly 1 payment row, but got %d", n)
		}
	})

	t.Run("should create payment from custom fields when TIME_EXPIRED arrives first", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)

		// --- Act ---
		out, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-9", "TIME_EXPIRED", inv.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if !out.Created {
			t.Error("expected a payment row to be created")
		}
		p, err := f.payments.FindByProviderPaymentID(ctx, nil, "intent-9")
		if err != nil {
			t.Fatalf("expected payment to exist, but got: %v", err)
		}
		if p.PayableStatus != model.StatusFailed {
			t.Errorf("expected payable_payment_status 'failed', but got '%s'", p.PayableStatus)
		}
		if p.Payable != inv.Ref() || p.PaymentProviderCustomerID != "pc-1" {
			t.Errorf("payment linked to wrong records: %+v", p)
		}
		got := f.payables.Get(inv.Ref()).(*model.Invoice)
		if got.PaymentStatus != model.StatusFailed || !got.ReadyForPaymentProcessing {
			t.Errorf("expected invoice failed and ready, but got %s/%v", got.PaymentStatus, got.ReadyForPaymentProcessing)
		}
		if got.PaymentAttempts != 1 {
			t.Errorf("expected 1 payment attempt, but got %d", got.PaymentAttempts)
		}
		if n := len(f.queue.OfKind(adapter.TaskNotificationDeliver)); n != 1 {
			t.Errorf("expected 1 failure notification, but got %d", n)
		}
	})

	t.Run("should reject when the payable cannot be resolved", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		ev := intentEvent("intent-1", "PENDING", model.PayableRef{Type: model.PayableInvoice, ID: "missing"})

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if !errors.Is(err, domain.ErrPayableNotFound) {
			t.Fatalf("expected ErrPayableNotFound, but got: %v", err)
		}
		if !domain.IsTerminal(err) {
			t.Error("expected the error to be terminal")
		}
	})

	t.Run("should reject payables of another organization", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		inv.OrganizationID = "org-2"
		f := newFixture(inv)

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref()))

		// --- Assert ---
		if !errors.Is(err, domain.ErrPayableNotFound) {
			t.Fatalf("expected ErrPayableNotFound, but got: %v", err)
		}
	})

	t.Run("should treat unknown raw statuses as pending and keep the raw value", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "AUTHORIZING", inv.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		p, _ := f.payments.FindByProviderPaymentID(ctx, nil, "intent-1")
		if p.Status != "AUTHORIZING" {
			t.Errorf("expected raw status to pass through, but got '%s'", p.Status)
		}
		if p.PayableStatus != model.StatusPending {
			t.Errorf("expected canonical 'pending', but got '%s'", p.PayableStatus)
		}
	})

	t.Run("should ignore a different status for a closed payment", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "FAILED", inv.Ref()))

		// --- Act ---
		out, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Result != usecase.ResultStale {
			t.Errorf("expected result 'stale', but got '%s'", out.Result)
		}
		p, _ := f.payments.FindByProviderPaymentID(ctx, nil, "intent-1")
		if p.Status != "FAILED" {
			t.Errorf("expected payment to stay FAILED, but got '%s'", p.Status)
		}
	})
}

func TestReconcileUseCase_NoResurrection(t *testing.T) {
	ctx := context.Background()

	t.Run("should never reopen a succeeded payable", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PROCESSED", inv.Ref())); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		events := []*model.InboundEvent{
			intentEvent("intent-2", "FAILED", inv.Ref()),
			intentEvent("intent-2", "PENDING", inv.Ref()),
			{
				Gateway:           model.GatewayMoneyhash,
				Kind:              model.EventTransactionUpdated,
				ProviderPaymentID: "intent-1",
				Outcome:           model.TransactionFailed,
				CustomFields:      model.CustomFields{PayableID: inv.ID, PayableType: string(model.PayableInvoice)},
			},
		}

		for _, ev := range events {
			// --- Act ---
			var err error
			if ev.Kind == model.EventTransactionUpdated {
				_, err = f.engine.HandleTransaction(ctx, f.provider, f.gw, ev)
			} else {
				_, err = f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev)
			}

			// --- Assert ---
			if !errors.Is(err, domain.ErrPayableAlreadySucceeded) {
				t.Errorf("expected ErrPayableAlreadySucceeded, but got: %v", err)
			}
			if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusSucceeded {
				t.Fatalf("expected payable to stay succeeded, but got '%s'", got)
			}
		}
		if n := len(f.payments.All()); n != 1 {
			t.Errorf("expected no new payment rows, but got %d", n)
		}
	})
}

func TestReconcileUseCase_HandleTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep payment open but fail the payable on a failed transaction", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref()))
		ev := &model.InboundEvent{
			Gateway:           model.GatewayMoneyhash,
			Kind:              model.EventTransactionUpdated,
			ProviderPaymentID: "intent-1",
			TransactionID:     "txn-1",
			RawStatus:         "FAILED",
			Outcome:           model.TransactionFailed,
			ErrorCode:         "insufficient_funds",
		}

		// --- Act ---
		out, err := f.engine.HandleTransaction(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		p, _ := f.payments.FindByProviderPaymentID(ctx, nil, "intent-1")
		if p.Status != "PENDING" || p.Closed() {
			t.Errorf("expected payment to stay open with PENDING, but got '%s'", p.Status)
		}
		if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusFailed {
			t.Errorf("expected payable 'failed', but got '%s'", got)
		}
		if out.Current != model.StatusFailed {
			t.Errorf("expected outcome current 'failed', but got '%s'", out.Current)
		}
		notes := f.queue.OfKind(adapter.TaskNotificationDeliver)
		if len(notes) != 1 {
			t.Fatalf("expected 1 notification, but got %d", len(notes))
		}
		var n adapter.Notification
		json.Unmarshal(notes[0].Payload, &n)
		if n.Event != adapter.EventPaymentProviderError || n.Detail["error_code"] != "insufficient_funds" {
			t.Errorf("unexpected notification: %+v", n)
		}

		// A later intent success still settles the payable.
		if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PROCESSED", inv.Ref())); err != nil {
			t.Fatalf("expected follow-up success to apply, but got: %v", err)
		}
		if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusSucceeded {
			t.Errorf("expected payable 'succeeded', but got '%s'", got)
		}
	})
}

func TestReconcileUseCase_FanOut(t *testing.T) {
	ctx := context.Background()

	t.Run("should mirror payment request status on every invoice", func(t *testing.T) {
		// --- Arrange ---
		i1, i2, i3 := newInvoice("inv-1", 300), newInvoice("inv-2", 300), newInvoice("inv-3", 400)
		pr := newPaymentRequest("pr-1", 1000, "inv-1", "inv-2", "inv-3")
		f := newFixture(i1, i2, i3, pr)

		for _, raw := range []string{"PENDING", "FAILED"} {
			// --- Act ---
			id := "intent-" + raw
			if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent(id, raw, pr.Ref())); err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}

			// --- Assert ---
			want := f.gw.NormalizeStatus(raw)
			if got := f.payables.Get(pr.Ref()).Status(); got != want {
				t.Errorf("expected payment request '%s', but got '%s'", want, got)
			}
			for _, ref := range pr.Dependents() {
				if got := f.payables.Get(ref).Status(); got != want {
					t.Errorf("expected %s to be '%s', but got '%s'", ref, want, got)
				}
			}
		}

		if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-ok", "PROCESSED", pr.Ref())); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		for _, ref := range append(pr.Dependents(), pr.Ref()) {
			inv := f.payables.Get(ref)
			if inv.Status() != model.StatusSucceeded {
				t.Errorf("expected %s to be succeeded, but got '%s'", ref, inv.Status())
			}
		}
	})

	t.Run("should not reopen a dependent invoice that already succeeded", func(t *testing.T) {
		// --- Arrange ---
		paid, open := newInvoice("inv-1", 500), newInvoice("inv-2", 500)
		paid.ApplyStatus(model.StatusSucceeded)
		pr := newPaymentRequest("pr-1", 1000, "inv-1", "inv-2")
		f := newFixture(paid, open, pr)

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "FAILED", pr.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if got := f.payables.Get(pr.Ref()).Status(); got != model.StatusFailed {
			t.Errorf("expected payment request 'failed', but got '%s'", got)
		}
		if got := f.payables.Get(paid.Ref()).Status(); got != model.StatusSucceeded {
			t.Errorf("expected inv-1 to stay 'succeeded', but got '%s'", got)
		}
		if got := f.payables.Get(open.Ref()).Status(); got != model.StatusFailed {
			t.Errorf("expected inv-2 'failed', but got '%s'", got)
		}
	})
}

func TestReconcileUseCase_Concurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("should retry the whole step after a lock conflict", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		conflicts := 2
		f.payables.BeforeSave = func(ref model.PayableRef) {
			if conflicts > 0 {
				conflicts--
				f.payables.Touch(ref)
			}
		}

		// --- Act ---
		out, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "FAILED", inv.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected retries to succeed, but got: %v", err)
		}
		if out.Current != model.StatusFailed {
			t.Errorf("expected 'failed', but got '%s'", out.Current)
		}
		if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusFailed {
			t.Errorf("expected stored payable 'failed', but got '%s'", got)
		}
		if n := len(f.payments.All()); n != 1 {
			t.Errorf("expected 1 payment row, but got %d", n)
		}
		if n := len(f.queue.OfKind(adapter.TaskNotificationDeliver)); n != 1 {
			t.Errorf("expected exactly 1 notification, but got %d", n)
		}
	})

	t.Run("should surface a transient error when conflicts persist", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		f.payables.BeforeSave = func(ref model.PayableRef) { f.payables.Touch(ref) }

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref()))

		// --- Assert ---
		if !errors.Is(err, domain.ErrRetriesExhausted) {
			t.Fatalf("expected ErrRetriesExhausted, but got: %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("expected exhausted retries to be retryable by the task executor")
		}
	})

	t.Run("should collapse a racing create onto one payment row", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		f.payments.BeforeCreate = func(p *model.Payment) {
			// Another worker inserts the same intent between our read and our insert.
			if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref())); err != nil {
				t.Errorf("racing writer failed: %v", err)
			}
		}

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PROCESSED", inv.Ref()))

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected the loser to update instead of failing, but got: %v", err)
		}
		rows := f.payments.All()
		if len(rows) != 1 {
			t.Fatalf("expected 1 payment row, but got %d", len(rows))
		}
		if rows[0].Status != "PROCESSED" {
			t.Errorf("expected loser's status to be applied, but got '%s'", rows[0].Status)
		}
		if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusSucceeded {
			t.Errorf("expected payable 'succeeded', but got '%s'", got)
		}
	})
}

func TestReconcileUseCase_HandlePaymentMethod(t *testing.T) {
	ctx := context.Background()

	t.Run("should store the payment method on the provider customer", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		ev := &model.InboundEvent{
			Gateway:         model.GatewayMoneyhash,
			Kind:            model.EventPaymentMethodUpdated,
			PaymentMethodID: "card-9",
			CustomFields:    model.CustomFields{CustomerID: testCustomerID},
		}

		// --- Act ---
		out, err := f.engine.HandlePaymentMethod(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if out.Result != usecase.ResultApplied {
			t.Errorf("expected 'applied', but got '%s'", out.Result)
		}
		pc, _ := f.pcs.FindByCustomer(ctx, nil, testCustomerID, model.GatewayMoneyhash)
		if pc.PaymentMethodID != "card-9" {
			t.Errorf("expected payment method 'card-9', but got '%s'", pc.PaymentMethodID)
		}
	})

	t.Run("should refuse a payment method from another organization's provider", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		foreign := &model.PaymentProvider{ID: "prov-2", OrganizationID: "org-2", Code: "mh", Gateway: model.GatewayMoneyhash}
		ev := &model.InboundEvent{
			Gateway:         model.GatewayMoneyhash,
			Kind:            model.EventPaymentMethodUpdated,
			PaymentMethodID: "card-foreign",
			CustomFields:    model.CustomFields{CustomerID: testCustomerID},
		}

		// --- Act ---
		_, err := f.engine.HandlePaymentMethod(ctx, foreign, f.gw, ev)

		// --- Assert ---
		if !errors.Is(err, domain.ErrProviderCustomerMissing) {
			t.Fatalf("expected ErrProviderCustomerMissing, but got: %v", err)
		}
		pc, _ := f.pcs.FindByCustomer(ctx, nil, testCustomerID, model.GatewayMoneyhash)
		if pc.PaymentMethodID != "card-1" {
			t.Errorf("expected payment method to stay 'card-1', but got '%s'", pc.PaymentMethodID)
		}
	})

	t.Run("should fail terminally for an unknown customer", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		ev := &model.InboundEvent{PaymentMethodID: "card-9", CustomFields: model.CustomFields{CustomerID: "nobody"}}

		// --- Act ---
		_, err := f.engine.HandlePaymentMethod(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if !errors.Is(err, domain.ErrProviderCustomerMissing) {
			t.Fatalf("expected ErrProviderCustomerMissing, but got: %v", err)
		}
	})
}

func TestReconcileUseCase_IdempotentReplay(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{1, 2, 5} {
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		for i := 0; i < n; i++ {
			if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref())); err != nil {
				t.Fatalf("delivery %d failed: %v", i, err)
			}
		}
		if rows := len(f.payments.All()); rows != 1 {
			t.Errorf("n=%d: expected 1 payment row, but got %d", n, rows)
		}
		if got := f.payables.Get(inv.Ref()).(*model.Invoice); got.PaymentAttempts != 1 {
			t.Errorf("n=%d: expected 1 attempt, but got %d", n, got.PaymentAttempts)
		}
	}
}

func TestReconcileUseCase_FailureNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("should schedule one notification when a failure is replayed after its task was acked", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		ev := intentEvent("intent-1", "FAILED", inv.Ref())

		// --- Act ---
		for i := 0; i < 3; i++ {
			if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev); err != nil {
				t.Fatalf("delivery %d failed: %v", i, err)
			}
			f.queue.ReleaseDedup()
		}

		// --- Assert ---
		if n := len(f.queue.OfKind(adapter.TaskNotificationDeliver)); n != 1 {
			t.Fatalf("expected 1 notification task, but got %d", n)
		}
	})
}

func TestReconcileUseCase_AttemptCounting(t *testing.T) {
	ctx := context.Background()

	t.Run("should not count an attempt twice when the webhook beats the initiator's write", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		if err := f.engine.IncrementAttempts(ctx, inv.Ref()); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}

		// --- Act ---
		if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent("intent-1", "PENDING", inv.Ref())); err != nil {
			t.Fatalf("expected no error on webhook, but got: %v", err)
		}
		_, err := f.engine.RecordAttempt(ctx, f.provider, f.gw, usecase.Attempt{Payable: inv.Ref(), ProviderPaymentID: "intent-1", RawStatus: "PENDING"})

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error on record, but got: %v", err)
		}
		if got := f.payables.Get(inv.Ref()).(*model.Invoice); got.PaymentAttempts != 1 {
			t.Errorf("expected 1 attempt, but got %d", got.PaymentAttempts)
		}
		if n := len(f.payments.All()); n != 1 {
			t.Errorf("expected 1 payment row, but got %d", n)
		}
	})

	t.Run("should count a second webhook-only attempt", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)

		// --- Act ---
		for _, id := range []string{"intent-1", "intent-2"} {
			if _, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, intentEvent(id, "FAILED", inv.Ref())); err != nil {
				t.Fatalf("expected no error, but got: %v", err)
			}
		}

		// --- Assert ---
		if got := f.payables.Get(inv.Ref()).(*model.Invoice); got.PaymentAttempts != 2 {
			t.Errorf("expected 2 attempts, but got %d", got.PaymentAttempts)
		}
	})
}

func TestReconcileUseCase_UnsignedCustomFields(t *testing.T) {
	ctx := context.Background()

	t.Run("should not create a payment from unsigned custom fields", func(t *testing.T) {
		// --- Arrange ---
		inv := newInvoice("inv-1", 1000)
		f := newFixture(inv)
		ev := intentEvent("authority-1", "PAID", inv.Ref())
		ev.UnsignedCustomFields = true

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if !errors.Is(err, domain.ErrPaymentNotYetRecorded) {
			t.Fatalf("expected ErrPaymentNotYetRecorded, but got: %v", err)
		}
		if !domain.IsRetryable(err) {
			t.Error("expected the error to be retryable")
		}
		if n := len(f.payments.All()); n != 0 {
			t.Errorf("expected no payment row, but got %d", n)
		}
	})

	t.Run("should update an existing payment whatever the custom fields say", func(t *testing.T) {
		// --- Arrange ---
		inv, other := newInvoice("inv-1", 1000), newInvoice("inv-2", 1000)
		f := newFixture(inv, other)
		if _, err := f.engine.RecordAttempt(ctx, f.provider, f.gw, usecase.Attempt{Payable: inv.Ref(), ProviderPaymentID: "authority-1", RawStatus: "PENDING"}); err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		ev := intentEvent("authority-1", "PROCESSED", other.Ref())
		ev.UnsignedCustomFields = true

		// --- Act ---
		_, err := f.engine.HandlePaymentIntent(ctx, f.provider, f.gw, ev)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if got := f.payables.Get(inv.Ref()).Status(); got != model.StatusSucceeded {
			t.Errorf("expected inv-1 'succeeded', but got '%s'", got)
		}
		if got := f.payables.Get(other.Ref()).Status(); got != model.StatusPending {
			t.Errorf("expected inv-2 untouched, but got '%s'", got)
		}
	})
}
