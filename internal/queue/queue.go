// Package queue is the asynchronous task substrate: a Redis-backed TaskQueue
// and a worker Pool that executes tasks with bounded retry and backoff.
//
// Layout per queue name:
//
//	<name>:ready       LIST  tasks waiting for a worker (LPUSH / BRPOPLPUSH)
//	<name>:processing  LIST  tasks held by a worker until Ack
//	<name>:delayed     ZSET  tasks waiting out a backoff, scored by due unix ms
//	<name>:dead        LIST  tasks that exhausted their attempts
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Task kinds.
const (
	KindGenerate = "schedule.generate"
	KindSend     = "schedule.send"
	KindWebhook  = "webhook.process"
)

// ErrEmpty is returned by Dequeue when no task arrived before the timeout.
var ErrEmpty = errors.New("queue empty")

// Task is one unit of work.
type Task struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	raw string
}

// TaskHandle identifies an enqueued task.
type TaskHandle struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// EntryPayload addresses a schedule entry.
type EntryPayload struct {
	EntryID string `json:"entry_id"`
}

// WebhookPayload addresses a webhook processing record.
type WebhookPayload struct {
	RecordID string `json:"record_id"`
}

// Queue is a TaskQueue backed by Redis.
type Queue struct {
	client *redis.Client
	name   string
}

// New creates a queue under the given key prefix.
func New(client *redis.Client, name string) *Queue {
	if name == "" {
		name = "tasks"
	}
	return &Queue{client: client, name: name}
}

func (q *Queue) key(part string) string { return q.name + ":" + part }

// Enqueue marshals payload and appends a new task.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload interface{}) (TaskHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	t := Task{ID: uuid.New().String(), Kind: kind, Payload: body, EnqueuedAt: time.Now().UTC()}
	raw, err := json.Marshal(t)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key("ready"), raw).Err(); err != nil {
		return TaskHandle{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return TaskHandle{ID: t.ID, Kind: kind}, nil
}

// EnqueueEntry is a convenience for the entry-addressed kinds.
func (q *Queue) EnqueueEntry(ctx context.Context, kind, entryID string) (TaskHandle, error) {
	return q.Enqueue(ctx, kind, EntryPayload{EntryID: entryID})
}

// EnqueueOnce enqueues unless a task with the same kind and key was
// enqueued within ttl. The bool reports whether a task was added.
func (q *Queue) EnqueueOnce(ctx context.Context, kind, key string, ttl time.Duration, payload interface{}) (TaskHandle, bool, error) {
	ok, err := q.client.SetNX(ctx, q.key("once:"+kind+":"+key), 1, ttl).Result()
	if err != nil {
		return TaskHandle{}, false, fmt.Errorf("dedupe %s %s: %w", kind, key, err)
	}
	if !ok {
		return TaskHandle{}, false, nil
	}
	h, err := q.Enqueue(ctx, kind, payload)
	if err != nil {
		q.client.Del(ctx, q.key("once:"+kind+":"+key))
		return TaskHandle{}, false, err
	}
	return h, true, nil
}

// EnqueueWebhook schedules processing of a webhook record.
func (q *Queue) EnqueueWebhook(ctx context.Context, recordID string) error {
	_, err := q.Enqueue(ctx, KindWebhook, WebhookPayload{RecordID: recordID})
	return err
}

// Dequeue blocks up to timeout for the next task and moves it to the
// processing list. It returns ErrEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	raw, err := q.client.BRPopLPush(ctx, q.key("ready"), q.key("processing"), timeout).Result()
	if err == redis.Nil {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		// Unreadable tasks go straight to the dead list.
		q.client.LRem(ctx, q.key("processing"), 1, raw)
		q.client.LPush(ctx, q.key("dead"), raw)
		return nil, fmt.Errorf("decode task: %w", err)
	}
	t.raw = raw
	return &t, nil
}

// Ack removes a finished task from the processing list.
func (q *Queue) Ack(ctx context.Context, t *Task) error {
	return q.client.LRem(ctx, q.key("processing"), 1, t.raw).Err()
}

// Retry schedules the task again after delay, recording the failure.
func (q *Queue) Retry(ctx context.Context, t *Task, delay time.Duration, cause error) error {
	next := *t
	next.Attempts++
	if cause != nil {
		next.LastError = cause.Error()
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	due := time.Now().Add(delay).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(due), Member: string(raw)})
	pipe.LRem(ctx, q.key("processing"), 1, t.raw)
	_, err = pipe.Exec(ctx)
	return err
}

// DeadLetter parks a task that will not be retried.
func (q *Queue) DeadLetter(ctx context.Context, t *Task, cause error) error {
	dead := *t
	dead.Attempts++
	if cause != nil {
		dead.LastError = cause.Error()
	}
	raw, err := json.Marshal(dead)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, q.key("dead"), string(raw))
	pipe.LRem(ctx, q.key("processing"), 1, t.raw)
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteDue moves delayed tasks whose backoff elapsed back to ready.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list delayed: %w", err)
	}
	moved := 0
	for _, raw := range due {
		// ZRem first so two promoters cannot both push the same task.
		n, err := q.client.ZRem(ctx, q.key("delayed"), raw).Result()
		if err != nil {
			return moved, fmt.Errorf("remove delayed: %w", err)
		}
		if n == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.key("ready"), raw).Err(); err != nil {
			return moved, fmt.Errorf("promote delayed: %w", err)
		}
		moved++
	}
	return moved, nil
}

// RecoverProcessing returns every task in the processing list to ready.
// Call it on startup, before any worker of this queue runs.
func (q *Queue) RecoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.key("processing"), q.key("ready")).Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("recover processing: %w", err)
		}
		moved++
	}
}

// Stats reports queue depths.
type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

// Stats returns the current depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.key("ready"))
	processing := pipe.LLen(ctx, q.key("processing"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	dead := pipe.LLen(ctx, q.key("dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{Ready: ready.Val(), Processing: processing.Val(), Delayed: delayed.Val(), Dead: dead.Val()}, nil
}
