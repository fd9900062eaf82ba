package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/config"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/infra/api/apiv1"
	pg "gateway-reconciler/internal/infra/db/postgres"
	"gateway-reconciler/internal/infra/logging"
	"gateway-reconciler/internal/infra/metrics"
	"gateway-reconciler/internal/infra/notify"
	"gateway-reconciler/internal/infra/payment"
	red "gateway-reconciler/internal/infra/redis"
	"gateway-reconciler/internal/infra/sched"
	"gateway-reconciler/internal/infra/security"
	"gateway-reconciler/internal/infra/worker"
	"gateway-reconciler/internal/usecase"
)

const devEncryptionKey = "0123456789abcdef0123456789abcdef"

// app holds every wired dependency shared by the subcommands.
type app struct {
	cfg *config.Config
	log *zerolog.Logger

	pool  *pgxpool.Pool
	redis *red.Client // nil when redis.url is unset

	queue    adapter.TaskQueue
	consumer adapter.TaskConsumer
	dead     apiv1.DeadLetters

	payments  repository.PaymentRepository
	payables  repository.PayableRepository
	providers repository.PaymentProviderRepository

	dispatcher        *usecase.Dispatcher
	ingress           usecase.IngressUseCase
	initiator         usecase.InitiatorUseCase
	providerCustomers usecase.ProviderCustomerUseCase
	notifications     usecase.NotificationUseCase

	closers []func()
}

func loadConfig(opts *rootOptions) (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(opts.configPath, opts.dev)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("developer mode enabled")
	}
	return cfg, logger, nil
}

func newCipher(cfg *config.Config, logger *zerolog.Logger) (*security.EncryptionService, error) {
	key := cfg.Security.EncryptionKey
	if key == "" {
		if !cfg.Runtime.Dev {
			return nil, fmt.Errorf("security.encryption_key is required")
		}
		logger.Warn().Msg("security.encryption_key not set; falling back to dev key (INSECURE)")
		key = devEncryptionKey
	}
	svc, err := security.NewEncryptionService(key, cfg.Security.PreviousKeys...)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}
	return svc, nil
}

// newApp connects to Postgres and, when configured, Redis, then builds the use cases.
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	metrics.MustRegister()
	metrics.SetBuildInfo(Version, Commit)

	a := &app{cfg: cfg, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// ---- Postgres ----
	if cfg.Database.MigrateOnStart {
		if err := pg.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := pg.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)

	// ---- Redis ----
	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}

	cipher, err := newCipher(cfg, logger)
	if err != nil {
		return nil, err
	}

	// ---- Repositories ----
	a.payments = pg.NewPaymentRepo(pool)
	a.payables = pg.NewPayableRepo(pool)
	customers := pg.NewCustomerRepo(pool)
	pcs := pg.NewProviderCustomerRepo(pool)
	orgs := pg.NewOrganizationRepo(pool)
	var providers repository.PaymentProviderRepository = pg.NewProviderRepo(pool, cipher)
	if cfg.Database.ProviderCacheOn && a.redis != nil {
		providers = pg.NewProviderRepoCacheDecorator(providers, a.redis, cipher, cfg.Redis.TTL, logger)
	}
	a.providers = providers
	tm := pg.NewTxManager(pool)

	// ---- Queue ----
	if cfg.Queue.InMemoryQueue {
		q := worker.NewMemoryQueue(cfg.Queue.Lease)
		a.queue, a.consumer, a.dead = q, q, q
		logger.Warn().Msg("in-memory task queue: tasks are lost on restart")
	} else {
		q := red.NewTaskQueue(a.redis, red.TaskQueueOptions{
			Name:     cfg.Queue.Name,
			Lease:    cfg.Queue.Lease,
			DedupTTL: cfg.Queue.DedupTTL,
		})
		a.queue, a.consumer, a.dead = q, q, q
	}

	// ---- Use cases ----
	gateways := payment.NewRegistryFromConfig(cfg.Gateways)
	retry := usecase.RetryPolicy{
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		Initial:     cfg.Reconcile.InitialBackoff,
		Max:         cfg.Reconcile.MaxBackoff,
		OnConflict:  func(int, error) { metrics.IncLockConflict() },
	}
	engine := usecase.NewReconcileUseCase(a.payments, a.payables, pcs, tm, a.queue, retry, logger)
	a.dispatcher = usecase.NewDispatcher(engine, providers, gateways, logger)
	a.ingress = usecase.NewIngressUseCase(orgs, providers, gateways, a.queue, logger)
	a.initiator = usecase.NewInitiatorUseCase(a.payables, customers, pcs, providers, gateways, engine, cfg.HTTP.PublicURL, logger)
	a.providerCustomers = usecase.NewProviderCustomerUseCase(customers, pcs, providers, gateways, tm, a.queue, logger)

	notifier, err := a.newNotifier()
	if err != nil {
		return nil, err
	}
	a.notifications = usecase.NewNotificationUseCase(notifier, a.payments, providers, logger)

	ok = true
	return a, nil
}

// newNotifier always logs and fans out to Telegram and Kafka when configured.
func (a *app) newNotifier() (adapter.Notifier, error) {
	channels := notify.Multi{notify.NewLogNotifier(a.log)}
	if tg := a.cfg.Notify.Telegram; tg.Token != "" {
		n, err := notify.NewTelegramNotifier(tg.Token, tg.ChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram notifier: %w", err)
		}
		channels = append(channels, n)
	}
	if k := a.cfg.Notify.Kafka; len(k.Brokers) > 0 {
		n, err := notify.NewKafkaNotifier(k.Brokers, k.TopicPrefix)
		if err != nil {
			return nil, fmt.Errorf("kafka notifier: %w", err)
		}
		a.closers = append(a.closers, func() { _ = n.Close() })
		channels = append(channels, n)
	}
	return channels, nil
}

func (a *app) locker() sched.Locker {
	if a.redis == nil {
		return nil
	}
	return red.NewLocker(a.redis)
}

// runWorker consumes the task queue and runs the stale payment sweeper until ctx ends.
func (a *app) runWorker(ctx context.Context) error {
	sweeper := sched.NewStaleSweeper(a.notifications, a.locker(), a.cfg.Scheduler.StaleSweepEvery, a.cfg.Scheduler.StalePendingAfter, a.log)
	go sweeper.Start(ctx)

	pool := worker.NewPool(a.cfg.Queue.Workers, a.log)
	proc := worker.NewProcessor(a.consumer, pool, worker.ProcessorOptions{
		MaxAttempts: a.cfg.Queue.MaxAttempts,
		Wait:        a.cfg.Queue.PollTimeout,
		ReapEvery:   a.cfg.Queue.ReapInterval,
	}, a.log)
	h := &worker.Handlers{
		Dispatcher:        a.dispatcher,
		Initiator:         a.initiator,
		ProviderCustomers: a.providerCustomers,
		Notifications:     a.notifications,
		Log:               a.log,
	}
	h.Register(proc)

	return proc.Run(ctx)
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
