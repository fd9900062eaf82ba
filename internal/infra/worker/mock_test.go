//go:build !integration

package worker

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type mockDispatcher struct {
	DispatchFunc func(ctx context.Context, ev *model.InboundEvent) (*usecase.Outcome, error)
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev *model.InboundEvent) (*usecase.Outcome, error) {
	return m.DispatchFunc(ctx, ev)
}

type mockInitiator struct {
	ChargeFunc func(ctx context.Context, ref model.PayableRef) (*usecase.ChargeResult, error)
}

func (m *mockInitiator) Charge(ctx context.Context, ref model.PayableRef) (*usecase.ChargeResult, error) {
	return m.ChargeFunc(ctx, ref)
}

type mockProviderCustomers struct {
	EnsureFunc func(ctx context.Context, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error)
}

func (m *mockProviderCustomers) EnsureProviderCustomer(ctx context.Context, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error) {
	return m.EnsureFunc(ctx, customerID, kind)
}

type mockNotifications struct {
	DeliverFunc func(ctx context.Context, n adapter.Notification) error
}

func (m *mockNotifications) Deliver(ctx context.Context, n adapter.Notification) error {
	return m.DeliverFunc(ctx, n)
}

func (m *mockNotifications) StalePending(ctx context.Context, olderThan time.Duration, limit int) (map[model.GatewayKind][]*model.Payment, error) {
	return nil, nil
}
