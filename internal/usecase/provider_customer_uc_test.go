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

// creatorGateway adds a customer API to FakeGateway.
type creatorGateway struct {
	*FakeGateway
	CreateCustomerFunc func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error)
	calls              int
}

func (g *creatorGateway) CreateCustomer(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error) {
	g.calls++
	return g.CreateCustomerFunc(ctx, provider, customer)
}

func notificationEvents(t *testing.T, q *MockQueue) []string {
	t.Helper()
	var out []string
	for _, task := range q.OfKind(adapter.TaskNotificationDeliver) {
		var n adapter.Notification
		if err := json.Unmarshal(task.Payload, &n); err != nil {
			t.Fatalf("unmarshal notification: %v", err)
		}
		out = append(out, n.Event)
	}
	return out
}

func TestProviderCustomerUseCase_EnsureProviderCustomer(t *testing.T) {
	ctx := context.Background()

	setup := func(create func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error)) (*fixture, *creatorGateway, usecase.ProviderCustomerUseCase) {
		f := newFixture()
		f.pcs = NewMemProviderCustomerRepo()
		gw := &creatorGateway{FakeGateway: f.gw, CreateCustomerFunc: create}
		f.registry[model.GatewayMoneyhash] = gw
		uc := usecase.NewProviderCustomerUseCase(f.customers, f.pcs, f.providers, f.registry, f.tm, f.queue, newTestLogger())
		return f, gw, uc
	}

	t.Run("should create and store the gateway customer", func(t *testing.T) {
		// --- Arrange ---
		f, gw, uc := setup(func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error) {
			return "mh-cust-42", nil
		})

		// --- Act ---
		pc, err := uc.EnsureProviderCustomer(ctx, testCustomerID, model.GatewayMoneyhash)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if pc.ProviderCustomerID != "mh-cust-42" || pc.PaymentProviderID != testProviderID {
			t.Errorf("unexpected provider customer: %+v", pc)
		}
		if gw.calls != 1 {
			t.Errorf("expected 1 gateway call, but got %d", gw.calls)
		}
		events := notificationEvents(t, f.queue)
		if len(events) != 1 || events[0] != adapter.EventCustomerProviderCreated {
			t.Errorf("expected a created notification, but got %v", events)
		}
	})

	t.Run("should not call the gateway when the customer already exists", func(t *testing.T) {
		// --- Arrange ---
		f, gw, uc := setup(func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error) {
			return "mh-cust-42", nil
		})
		f.pcs.Save(ctx, nil, &model.PaymentProviderCustomer{ID: "pc-9", CustomerID: testCustomerID, Gateway: model.GatewayMoneyhash, ProviderCustomerID: "mh-existing"})

		// --- Act ---
		pc, err := uc.EnsureProviderCustomer(ctx, testCustomerID, model.GatewayMoneyhash)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if pc.ProviderCustomerID != "mh-existing" || gw.calls != 0 {
			t.Errorf("expected existing customer and no call, but got %+v and %d calls", pc, gw.calls)
		}
	})

	t.Run("should notify and fail terminally on a gateway rejection", func(t *testing.T) {
		// --- Arrange ---
		f, _, uc := setup(func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error) {
			return "", &domain.GatewayError{Gateway: "moneyhash", HTTPStatus: 422, Body: "invalid email"}
		})

		// --- Act ---
		_, err := uc.EnsureProviderCustomer(ctx, testCustomerID, model.GatewayMoneyhash)

		// --- Assert ---
		if !domain.IsTerminal(err) {
			t.Fatalf("expected a terminal error, but got: %v", err)
		}
		events := notificationEvents(t, f.queue)
		if len(events) != 1 || events[0] != adapter.EventCustomerProviderError {
			t.Errorf("expected an error notification, but got %v", events)
		}
		if _, err := f.pcs.FindByCustomer(ctx, nil, testCustomerID, model.GatewayMoneyhash); !errors.Is(err, domain.ErrNotFound) {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("should keep network failures retryable", func(t *testing.T) {
		// --- Arrange ---
		_, _, uc := setup(func(ctx context.Context, provider *model.PaymentProvider, customer *model.Customer) (string, error) {
			return "", errors.New("connection reset")
		})

		// --- Act ---
		_, err := uc.EnsureProviderCustomer(ctx, testCustomerID, model.GatewayMoneyhash)

		// --- Assert ---
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, but got: %v", err)
		}
	})

	t.Run("should key gateways without a customer API by external id", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.pcs = NewMemProviderCustomerRepo()
		uc := usecase.NewProviderCustomerUseCase(f.customers, f.pcs, f.providers, f.registry, f.tm, f.queue, newTestLogger())

		// --- Act ---
		pc, err := uc.EnsureProviderCustomer(ctx, testCustomerID, model.GatewayMoneyhash)

		// --- Assert ---
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if pc.ProviderCustomerID != "ext-1" {
			t.Errorf("expected external id, but got %s", pc.ProviderCustomerID)
		}
	})
}
