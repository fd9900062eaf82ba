package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/infra/metrics"
	"gateway-reconciler/internal/usecase"
)

const staleSweepLockKey = "lock:sched:stale_pending"

// Locker serialises a tick across instances. A nil Locker runs every tick locally.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// StaleSweeper periodically reports payments still pending after staleAfter, per gateway.
// Nothing is mutated: a webhook or a support operator settles them.
type StaleSweeper struct {
	uc         usecase.NotificationUseCase
	locker     Locker
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	gateways   []model.GatewayKind
	log        *zerolog.Logger
}

func NewStaleSweeper(uc usecase.NotificationUseCase, locker Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *StaleSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	l := logger.With().Str("component", "stale-sweeper").Logger()
	return &StaleSweeper{
		uc:         uc,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      500,
		gateways:   []model.GatewayKind{model.GatewayMoneyhash, model.GatewayZarinpal, model.GatewayChapa},
		log:        &l,
	}
}

func (w *StaleSweeper) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep and returns the number of stale payments found, or -1 when another
// instance holds the lock or the listing failed.
func (w *StaleSweeper) Tick(ctx context.Context) int {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, staleSweepLockKey, w.interval)
		if err != nil {
			w.log.Debug().Err(err).Msg("stale sweep skipped")
			return -1
		}
		defer func() {
			if err := w.locker.Unlock(context.Background(), staleSweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("stale sweep unlock failed")
			}
		}()
	}

	grouped, err := w.uc.StalePending(ctx, w.staleAfter, w.limit)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending payments")
		return -1
	}
	total := 0
	for _, kind := range w.gateways {
		items := grouped[kind]
		metrics.SetStalePending(string(kind), len(items))
		total += len(items)
		for _, p := range items {
			w.log.Warn().
				Str("gateway", string(kind)).
				Str("payment_id", p.ID).
				Str("provider_payment_id", p.ProviderPaymentID).
				Str("payable", p.Payable.String()).
				Time("created_at", p.CreatedAt).
				Msg("payment still pending")
		}
	}
	if total > 0 {
		w.log.Info().Int("count", total).Dur("older_than", w.staleAfter).Msg("stale pending sweep")
	}
	return total
}
