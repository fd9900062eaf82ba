// File: internal/infra/worker/processor.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/infra/logging"
	"gateway-reconciler/internal/infra/metrics"
)

// Handler runs one task. Terminal domain errors drop the task; any other error retries it.
type Handler func(ctx context.Context, t *adapter.Task) error

var errNoHandler = errors.New("no handler registered")

type ProcessorOptions struct {
	MaxAttempts int
	Wait        time.Duration // Dequeue poll timeout
	ReapEvery   time.Duration
	Backoff     func(attempt int) time.Duration
}

// Processor pulls leased tasks from a TaskConsumer and settles each one exactly once:
// ack, retry with backoff or bury.
type Processor struct {
	queue    adapter.TaskConsumer
	pool     *Pool
	handlers map[adapter.TaskKind]Handler
	opts     ProcessorOptions
	log      *zerolog.Logger
}

func NewProcessor(queue adapter.TaskConsumer, pool *Pool, opts ProcessorOptions, logger *zerolog.Logger) *Processor {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 6
	}
	if opts.Wait <= 0 {
		opts.Wait = 5 * time.Second
	}
	if opts.ReapEvery <= 0 {
		opts.ReapEvery = 15 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = Backoff
	}
	return &Processor{queue: queue, pool: pool, handlers: make(map[adapter.TaskKind]Handler), opts: opts, log: logger}
}

// Backoff is the polynomial retry delay: attempt^4 seconds plus two.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(math.Pow(float64(attempt), 4))*time.Second + 2*time.Second
}

func (p *Processor) Register(kind adapter.TaskKind, h Handler) {
	p.handlers[kind] = h
}

// Run blocks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	p.pool.Start(ctx)
	defer p.pool.Stop()
	go p.reapLoop(ctx)

	p.log.Info().Int("workers", p.pool.Size()).Int("max_attempts", p.opts.MaxAttempts).Msg("task processor started")
	for {
		if ctx.Err() != nil {
			p.log.Info().Msg("task processor stopped")
			return nil
		}
		t, err := p.queue.Dequeue(ctx, p.opts.Wait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if t == nil {
			continue
		}
		task := t
		if err := p.pool.Submit(ctx, func(ctx context.Context) error {
			p.Process(ctx, task)
			return nil
		}); err != nil {
			// Lease expiry returns the task to pending.
			p.log.Warn().Err(err).Str("task_id", task.ID).Msg("task not submitted")
		}
	}
}

func (p *Processor) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ReapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.Reap(ctx)
			if err != nil {
				p.log.Error().Err(err).Msg("reap failed")
				continue
			}
			if n > 0 {
				p.log.Info().Int("requeued", n).Msg("reaped tasks")
			}
			if _, err := p.queue.Depth(ctx); err != nil {
				p.log.Warn().Err(err).Msg("queue depth")
			}
		}
	}
}

// Process runs the task's handler and settles the task. It returns the settlement status.
func (p *Processor) Process(ctx context.Context, t *adapter.Task) string {
	ctx = logging.WithTaskID(ctx, t.ID)
	log := logging.With(ctx, p.log)
	start := time.Now()

	err := p.run(ctx, t)
	status := p.settle(ctx, t, err)

	metrics.IncTaskProcessed(string(t.Kind), status)
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("kind", string(t.Kind)).Int("attempt", t.Attempt).Str("status", status).
		Dur("elapsed", time.Since(start)).Msg("task processed")
	return status
}

func (p *Processor) run(ctx context.Context, t *adapter.Task) (err error) {
	h, ok := p.handlers[t.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", errNoHandler, t.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", t.Kind, r)
			p.log.Error().Str("task_id", t.ID).Bytes("stack", debug.Stack()).Msg("task handler panicked")
		}
	}()
	return h(ctx, t)
}

func (p *Processor) settle(ctx context.Context, t *adapter.Task, err error) string {
	var (
		status   string
		settleFn func() error
	)
	switch {
	case err == nil:
		status, settleFn = "done", func() error { return p.queue.Ack(ctx, t) }
	case errors.Is(err, errNoHandler):
		status, settleFn = "dead", func() error { return p.queue.Bury(ctx, t, err) }
	case domain.IsTerminal(err):
		status, settleFn = "terminal", func() error { return p.queue.Ack(ctx, t) }
	case t.Attempt < p.opts.MaxAttempts:
		delay := p.opts.Backoff(t.Attempt)
		status, settleFn = "retry", func() error { return p.queue.Retry(ctx, t, delay, err) }
	default:
		status, settleFn = "dead", func() error { return p.queue.Bury(ctx, t, fmt.Errorf("%w: %v", domain.ErrRetriesExhausted, err)) }
	}
	if serr := settleFn(); serr != nil {
		p.log.Error().Err(serr).Str("task_id", t.ID).Str("status", status).Msg("task settlement failed")
	}
	return status
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
