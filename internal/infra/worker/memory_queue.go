package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/infra/metrics"
)

var (
	_ adapter.TaskQueue    = (*MemoryQueue)(nil)
	_ adapter.TaskConsumer = (*MemoryQueue)(nil)
)

// MemoryQueue is a single-process TaskQueue for development and tests. It honours the same
// dedup, lease, delay and dead-letter rules as the Redis queue.
type MemoryQueue struct {
	mu      sync.Mutex
	tasks   map[string]*adapter.Task
	pending []string
	leases  map[string]time.Time
	delayed map[string]time.Time
	dead    []string
	dedup   map[string]string
	lease   time.Duration
	signal  chan struct{}
	now     func() time.Time
}

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &MemoryQueue{
		tasks:   make(map[string]*adapter.Task),
		leases:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
		dedup:   make(map[string]string),
		lease:   lease,
		signal:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, kind adapter.TaskKind, payload any, dedupKey string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}
	q.mu.Lock()
	if dedupKey != "" {
		if _, held := q.dedup[dedupKey]; held {
			q.mu.Unlock()
			metrics.IncTaskEnqueued(string(kind), "dedup")
			return "", nil
		}
	}
	t := &adapter.Task{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Payload:    raw,
		DedupKey:   dedupKey,
		Attempt:    1,
		EnqueuedAt: q.now().UTC(),
	}
	q.tasks[t.ID] = t
	if dedupKey != "" {
		q.dedup[dedupKey] = t.ID
	}
	q.pending = append(q.pending, t.ID)
	q.mu.Unlock()

	metrics.IncTaskEnqueued(string(kind), "queued")
	q.wake()
	return t.ID, nil
}

func (q *MemoryQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*adapter.Task, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		if t := q.pop(); t != nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.signal:
		}
	}
}

func (q *MemoryQueue) pop() *adapter.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.promoteLocked()
	if len(q.pending) == 0 {
		return nil
	}
	id := q.pending[0]
	q.pending = q.pending[1:]
	q.leases[id] = q.now().Add(q.lease)
	cp := *q.tasks[id]
	return &cp
}

// promoteLocked moves due delayed tasks and expired leases back to pending.
func (q *MemoryQueue) promoteLocked() int {
	now := q.now()
	var due []string
	for id, at := range q.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	for id, at := range q.leases {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)
	for _, id := range due {
		delete(q.delayed, id)
		delete(q.leases, id)
		q.pending = append(q.pending, id)
	}
	return len(due)
}

func (q *MemoryQueue) Ack(ctx context.Context, t *adapter.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, t.ID)
	delete(q.tasks, t.ID)
	q.releaseLocked(t)
	return nil
}

func (q *MemoryQueue) releaseLocked(t *adapter.Task) {
	if t.DedupKey != "" && q.dedup[t.DedupKey] == t.ID {
		delete(q.dedup, t.DedupKey)
	}
}

func (q *MemoryQueue) Retry(ctx context.Context, t *adapter.Task, delay time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	t.Attempt++
	if cause != nil {
		t.LastError = cause.Error()
	}
	cp := *t
	q.tasks[t.ID] = &cp
	delete(q.leases, t.ID)
	q.delayed[t.ID] = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) Bury(ctx context.Context, t *adapter.Task, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cause != nil {
		t.LastError = cause.Error()
	}
	cp := *t
	q.tasks[t.ID] = &cp
	delete(q.leases, t.ID)
	q.dead = append(q.dead, t.ID)
	q.releaseLocked(t)
	return nil
}

func (q *MemoryQueue) Reap(ctx context.Context) (int, error) {
	q.mu.Lock()
	n := q.promoteLocked()
	q.mu.Unlock()
	if n > 0 {
		q.wake()
	}
	return n, nil
}

func (q *MemoryQueue) Depth(ctx context.Context) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[string]int64{
		"pending":    int64(len(q.pending)),
		"processing": int64(len(q.leases)),
		"delayed":    int64(len(q.delayed)),
		"dead":       int64(len(q.dead)),
	}
	for state, n := range out {
		metrics.SetQueueDepth(state, n)
	}
	return out, nil
}

// DeadTasks returns buried tasks, newest first.
func (q *MemoryQueue) DeadTasks(ctx context.Context, limit int64) ([]*adapter.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*adapter.Task
	for i := len(q.dead) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		cp := *q.tasks[q.dead[i]]
		out = append(out, &cp)
	}
	return out, nil
}
