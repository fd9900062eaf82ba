package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"gateway-reconciler/internal/infra/api"
	"gateway-reconciler/internal/infra/api/apiv1"
	pg "gateway-reconciler/internal/infra/db/postgres"
	red "gateway-reconciler/internal/infra/redis"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook endpoints and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			checks := map[string]api.HealthCheck{"postgres": a.pool.Ping}
			opt := api.ServerOptions{
				HTTP:      a.cfg.HTTP,
				RateLimit: a.cfg.Webhook.RateLimitPerMinute,
				Ingress:   a.ingress,
				Auth:      api.NewAuthManager(a.cfg.Admin.JWTSecret, a.cfg.Admin.TokenTTL),
				Admin:     apiv1.NewServer(a.queue, a.payables, a.payments, a.dead, a.log),
				Checks:    checks,
			}
			if a.redis != nil {
				checks["redis"] = a.redis.Ping
				opt.Limiter = red.NewRateLimiter(a.redis)
			}
			srv := api.NewServer(opt, a.log)

			go pg.ReportPoolStats(ctx, a.pool, 15*time.Second)

			// The in-memory queue is only visible to this process.
			workerDone := make(chan error, 1)
			if withWorker || a.cfg.Queue.InMemoryQueue {
				go func() { workerDone <- a.runWorker(ctx) }()
			} else {
				close(workerDone)
			}

			serveErr := make(chan error, 1)
			go func() { serveErr <- srv.Start() }()

			select {
			case <-ctx.Done():
				a.log.Info().Msg("shutdown requested")
			case err = <-serveErr:
			}
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				a.log.Error().Err(serr).Msg("http shutdown")
			}
			if werr := <-workerDone; werr != nil {
				a.log.Error().Err(werr).Msg("worker stopped with error")
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also consume the task queue in this process")
	return cmd
}
