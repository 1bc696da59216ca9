package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

// Registry accepts task handlers. Pool and Inline implement it.
type Registry interface {
	Handle(kind string, h Handler)
}

// Inline runs each task synchronously in the caller's goroutine. It stands
// in for the Redis queue when none is configured; failed tasks are not
// retried, the periodic sweeps pick their entries up again.
type Inline struct {
	mu       sync.Mutex
	handlers map[string]Handler
	once     map[string]time.Time
	now      func() time.Time
}

// NewInline creates an empty inline queue.
func NewInline() *Inline {
	return &Inline{
		handlers: make(map[string]Handler),
		once:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Handle registers the handler for kind.
func (q *Inline) Handle(kind string, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

// Enqueue runs the task now and returns its handler's error.
func (q *Inline) Enqueue(ctx context.Context, kind string, payload interface{}) (TaskHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TaskHandle{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	q.mu.Lock()
	h, ok := q.handlers[kind]
	q.mu.Unlock()
	if !ok {
		return TaskHandle{}, fmt.Errorf("no handler for task kind %q", kind)
	}

	t := &Task{ID: uuid.New().String(), Kind: kind, Payload: body, EnqueuedAt: q.now().UTC()}
	if err := h(ctx, t); err != nil {
		logger.Warn("inline task failed", "task", t.ID, "kind", kind, "error", err)
		return TaskHandle{ID: t.ID, Kind: kind}, err
	}
	return TaskHandle{ID: t.ID, Kind: kind}, nil
}

// EnqueueEntry runs an entry-addressed task.
func (q *Inline) EnqueueEntry(ctx context.Context, kind, entryID string) (TaskHandle, error) {
	return q.Enqueue(ctx, kind, EntryPayload{EntryID: entryID})
}

// EnqueueWebhook runs webhook processing for a record.
func (q *Inline) EnqueueWebhook(ctx context.Context, recordID string) error {
	_, err := q.Enqueue(ctx, KindWebhook, WebhookPayload{RecordID: recordID})
	return err
}

// EnqueueOnce runs the task unless the same kind and key ran within ttl.
func (q *Inline) EnqueueOnce(ctx context.Context, kind, key string, ttl time.Duration, payload interface{}) (TaskHandle, bool, error) {
	k := kind + ":" + key
	now := q.now()
	q.mu.Lock()
	if at, ok := q.once[k]; ok && now.Sub(at) < ttl {
		q.mu.Unlock()
		return TaskHandle{}, false, nil
	}
	q.once[k] = now
	for other, at := range q.once {
		if now.Sub(at) >= ttl {
			delete(q.once, other)
		}
	}
	q.mu.Unlock()

	h, err := q.Enqueue(ctx, kind, payload)
	if err != nil {
		return h, true, err
	}
	return h, true, nil
}
