package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/oklog/ulid/v2"

	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/infra/metrics"
)

var (
	_ adapter.TaskQueue    = (*TaskQueue)(nil)
	_ adapter.TaskConsumer = (*TaskQueue)(nil)
)

// TaskQueue is an at-least-once queue on Redis lists and sorted sets:
//
//	tasks      hash   id -> task json
//	pending    list   ids ready to run (LPUSH / BRPOPLPUSH)
//	processing list   ids handed to a worker
//	leases     zset   id -> lease deadline (ms)
//	delayed    zset   id -> ready time (ms)
//	dead       list   ids that exhausted their attempts
//	dedup:<k>  string id of the in-flight task holding key k
type TaskQueue struct {
	cli      *redis.Client
	prefix   string
	lease    time.Duration
	dedupTTL time.Duration
	now      func() time.Time
}

type TaskQueueOptions struct {
	Name     string
	Lease    time.Duration
	DedupTTL time.Duration
}

func NewTaskQueue(c *Client, opts TaskQueueOptions) *TaskQueue {
	if opts.Name == "" {
		opts.Name = "reconciler"
	}
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.DedupTTL <= 0 {
		opts.DedupTTL = 10 * time.Minute
	}
	return &TaskQueue{
		cli:      c.cli,
		prefix:   "queue:" + opts.Name + ":",
		lease:    opts.Lease,
		dedupTTL: opts.DedupTTL,
		now:      time.Now,
	}
}

func (q *TaskQueue) key(name string) string { return q.prefix + name }

func (q *TaskQueue) dedupKey(k string) string {
	if k == "" {
		return ""
	}
	return q.prefix + "dedup:" + k
}

var luaEnqueue = redis.NewScript(`
if ARGV[3] ~= "" then
	if not redis.call("SET", ARGV[3], ARGV[1], "NX", "PX", ARGV[4]) then
		return 0
	end
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("LPUSH", KEYS[2], ARGV[1])
return 1`)

func (q *TaskQueue) Enqueue(ctx context.Context, kind adapter.TaskKind, payload any, dedupKey string) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", kind, err)
	}
	t := adapter.Task{
		ID:         ulid.Make().String(),
		Kind:       kind,
		Payload:    raw,
		DedupKey:   dedupKey,
		Attempt:    1,
		EnqueuedAt: q.now().UTC(),
	}
	body, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	n, err := luaEnqueue.Run(ctx, q.cli,
		[]string{q.key("tasks"), q.key("pending")},
		t.ID, body, q.dedupKey(dedupKey), q.dedupTTL.Milliseconds(),
	).Int()
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", kind, err)
	}
	if n == 0 {
		metrics.IncTaskEnqueued(string(kind), "dedup")
		return "", nil
	}
	metrics.IncTaskEnqueued(string(kind), "queued")
	return t.ID, nil
}

func (q *TaskQueue) Dequeue(ctx context.Context, wait time.Duration) (*adapter.Task, error) {
	id, err := q.cli.BRPopLPush(ctx, q.key("pending"), q.key("processing"), wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	deadline := q.now().Add(q.lease).UnixMilli()
	if err := q.cli.ZAdd(ctx, q.key("leases"), &redis.Z{Score: float64(deadline), Member: id}).Err(); err != nil {
		return nil, err
	}
	body, err := q.cli.HGet(ctx, q.key("tasks"), id).Result()
	if errors.Is(err, redis.Nil) {
		// Acked by a previous lease holder after its lease was reaped.
		q.cli.LRem(ctx, q.key("processing"), 0, id)
		q.cli.ZRem(ctx, q.key("leases"), id)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var t adapter.Task
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &t, nil
}

var luaAck = redis.NewScript(`
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("HDEL", KEYS[1], ARGV[1])
if ARGV[2] ~= "" and redis.call("GET", ARGV[2]) == ARGV[1] then
	redis.call("DEL", ARGV[2])
end
return 1`)

func (q *TaskQueue) Ack(ctx context.Context, t *adapter.Task) error {
	return luaAck.Run(ctx, q.cli,
		[]string{q.key("tasks"), q.key("processing"), q.key("leases")},
		t.ID, q.dedupKey(t.DedupKey),
	).Err()
}

var luaRetry = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[3], ARGV[1])
return 1`)

func (q *TaskQueue) Retry(ctx context.Context, t *adapter.Task, delay time.Duration, cause error) error {
	t.Attempt++
	if cause != nil {
		t.LastError = cause.Error()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	readyAt := q.now().Add(delay).UnixMilli()
	return luaRetry.Run(ctx, q.cli,
		[]string{q.key("tasks"), q.key("processing"), q.key("leases"), q.key("delayed")},
		t.ID, body, readyAt,
	).Err()
}

var luaBury = redis.NewScript(`
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("LREM", KEYS[2], 0, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("LPUSH", KEYS[4], ARGV[1])
if ARGV[3] ~= "" and redis.call("GET", ARGV[3]) == ARGV[1] then
	redis.call("DEL", ARGV[3])
end
return 1`)

func (q *TaskQueue) Bury(ctx context.Context, t *adapter.Task, cause error) error {
	if cause != nil {
		t.LastError = cause.Error()
	}
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return luaBury.Run(ctx, q.cli,
		[]string{q.key("tasks"), q.key("processing"), q.key("leases"), q.key("dead")},
		t.ID, body, q.dedupKey(t.DedupKey),
	).Err()
}

var luaReap = redis.NewScript(`
local moved = 0
local due = redis.call("ZRANGEBYSCORE", KEYS[4], "-inf", ARGV[1], "LIMIT", 0, ARGV[3])
for _, id in ipairs(due) do
	redis.call("ZREM", KEYS[4], id)
	redis.call("LPUSH", KEYS[1], id)
	moved = moved + 1
end
local expired = redis.call("ZRANGEBYSCORE", KEYS[3], "-inf", ARGV[1], "LIMIT", 0, ARGV[3])
for _, id in ipairs(expired) do
	redis.call("ZREM", KEYS[3], id)
	redis.call("LREM", KEYS[2], 0, id)
	redis.call("LPUSH", KEYS[1], id)
	moved = moved + 1
end
local inflight = redis.call("LRANGE", KEYS[2], 0, -1)
for _, id in ipairs(inflight) do
	if not redis.call("ZSCORE", KEYS[3], id) then
		redis.call("ZADD", KEYS[3], tonumber(ARGV[1]) + tonumber(ARGV[2]), id)
	end
end
return moved`)

// Reap is safe to run from every worker process; the script is atomic.
func (q *TaskQueue) Reap(ctx context.Context) (int, error) {
	return luaReap.Run(ctx, q.cli,
		[]string{q.key("pending"), q.key("processing"), q.key("leases"), q.key("delayed")},
		q.now().UnixMilli(), q.lease.Milliseconds(), 500,
	).Int()
}

func (q *TaskQueue) Depth(ctx context.Context) (map[string]int64, error) {
	pipe := q.cli.Pipeline()
	pending := pipe.LLen(ctx, q.key("pending"))
	processing := pipe.LLen(ctx, q.key("processing"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	out := map[string]int64{
		"pending":    pending.Val(),
		"processing": processing.Val(),
		"delayed":    delayed.Val(),
		"dead":       dead.Val(),
	}
	for state, n := range out {
		metrics.SetQueueDepth(state, n)
	}
	return out, nil
}

// DeadTasks returns up to limit buried tasks, newest first.
func (q *TaskQueue) DeadTasks(ctx context.Context, limit int64) ([]*adapter.Task, error) {
	ids, err := q.cli.LRange(ctx, q.key("dead"), 0, limit-1).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	bodies, err := q.cli.HMGet(ctx, q.key("tasks"), ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*adapter.Task, 0, len(bodies))
	for _, b := range bodies {
		s, ok := b.(string)
		if !ok {
			continue
		}
		var t adapter.Task
		if json.Unmarshal([]byte(s), &t) == nil {
			out = append(out, &t)
		}
	}
	return out, nil
}
