package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/logging"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

type NotificationUseCase interface {
	// Deliver hands a scheduled notification to the configured channel.
	Deliver(ctx context.Context, n adapter.Notification) error
	// StalePending returns payments still pending after olderThan, grouped by gateway kind.
	StalePending(ctx context.Context, olderThan time.Duration, limit int) (map[model.GatewayKind][]*model.Payment, error)
}

type notificationUC struct {
	notifier  adapter.Notifier
	payments  repository.PaymentRepository
	providers repository.PaymentProviderRepository
	log       *zerolog.Logger
}

func NewNotificationUseCase(notifier adapter.Notifier, payments repository.PaymentRepository, providers repository.PaymentProviderRepository, logger *zerolog.Logger) *notificationUC {
	return &notificationUC{notifier: notifier, payments: payments, providers: providers, log: logger}
}

func (n *notificationUC) Deliver(ctx context.Context, note adapter.Notification) error {
	defer logging.TraceDuration(n.log, "NotificationUC.Deliver")()
	if note.OccurredAt.IsZero() {
		note.OccurredAt = time.Now().UTC()
	}
	return n.notifier.Notify(ctx, note)
}

func (n *notificationUC) StalePending(ctx context.Context, olderThan time.Duration, limit int) (map[model.GatewayKind][]*model.Payment, error) {
	items, err := n.payments.ListPendingOlderThan(ctx, repository.NoTX, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	kinds := make(map[string]model.GatewayKind)
	out := make(map[model.GatewayKind][]*model.Payment)
	for _, p := range items {
		kind, ok := kinds[p.PaymentProviderID]
		if !ok {
			prov, err := n.providers.FindByID(ctx, repository.NoTX, p.PaymentProviderID)
			if err != nil {
				n.log.Warn().Err(err).Str("provider_id", p.PaymentProviderID).Msg("stale payment with unknown provider")
				continue
			}
			kind = prov.Gateway
			kinds[p.PaymentProviderID] = kind
		}
		out[kind] = append(out[kind], p)
	}
	return out, nil
}
