package adapter

import (
	"context"
	"encoding/json"
	"time"
)

type TaskKind string

const (
	TaskWebhookEvent           TaskKind = "webhook.event"
	TaskPaymentCharge          TaskKind = "payment.charge"
	TaskProviderCustomerCreate TaskKind = "provider_customer.create"
	TaskNotificationDeliver    TaskKind = "notification.deliver"
)

// Task is one unit of at-least-once work.
type Task struct {
	ID         string          `json:"id"`
	Kind       TaskKind        `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	DedupKey   string          `json:"dedup_key,omitempty"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// TaskQueue is the enqueue side of the job queue. Delivery is at-least-once and unordered.
// A non-empty dedupKey collapses identical in-flight tasks; the returned id is then empty.
type TaskQueue interface {
	Enqueue(ctx context.Context, kind TaskKind, payload any, dedupKey string) (taskID string, err error)
}

// TaskConsumer is the worker side of the queue. A dequeued task is leased; it returns to the
// pending list when the lease expires without Ack, Retry or Bury.
type TaskConsumer interface {
	// Dequeue blocks up to wait for a task. It returns nil, nil when none arrived.
	Dequeue(ctx context.Context, wait time.Duration) (*Task, error)
	Ack(ctx context.Context, t *Task) error
	// Retry schedules t again after delay with its attempt counter incremented.
	Retry(ctx context.Context, t *Task, delay time.Duration, cause error) error
	// Bury moves t to the dead-letter list.
	Bury(ctx context.Context, t *Task, cause error) error
	// Reap promotes due delayed tasks and requeues tasks whose lease expired.
	Reap(ctx context.Context) (int, error)
	// Depth reports the size of each queue state.
	Depth(ctx context.Context) (map[string]int64, error)
}

// ChargeTaskPayload is the payload of TaskPaymentCharge.
type ChargeTaskPayload struct {
	PayableType string `json:"payable_type"`
	PayableID   string `json:"payable_id"`
}

// ProviderCustomerTaskPayload is the payload of TaskProviderCustomerCreate.
type ProviderCustomerTaskPayload struct {
	CustomerID string `json:"customer_id"`
	Gateway    string `json:"gateway"`
}
