package worker

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"gateway-reconciler/internal/infra/metrics"
)

// Job is one unit of work handed to the pool.
type Job func(ctx context.Context) error

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	errNilJob      = errors.New("nil job")
)

// Pool runs jobs on a fixed set of goroutines. The jobs channel is unbuffered, so a
// Submit only returns once a worker has picked the job up.
type Pool struct {
	size int
	jobs chan Job
	done chan struct{}
	stop sync.Once
	wg   sync.WaitGroup
	log  *zerolog.Logger
}

// NewPool sizes the pool to workers, or to the CPU count when workers is not positive.
func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{size: workers, jobs: make(chan Job), done: make(chan struct{}), log: logger}
}

func (p *Pool) Size() int { return p.size }

// Start launches the workers. They exit when ctx ends or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.loop(ctx, i)
	}
}

func (p *Pool) loop(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case job := <-p.jobs:
			p.run(ctx, id, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	metrics.AddWorkersBusy(1)
	defer metrics.AddWorkersBusy(-1)
	if err := job(ctx); err != nil {
		p.log.Error().Err(err).Int("worker", id).Msg("job failed")
	}
}

// Stop signals the workers and waits for in-flight jobs. It is safe to call twice.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.done) })
	p.wg.Wait()
}

// Submit hands job to an idle worker, blocking until one is free. The processor relies
// on this to never lease more tasks than it can run.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if job == nil {
		return errNilJob
	}
	select {
	case <-p.done:
		return ErrPoolStopped
	default:
	}
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
