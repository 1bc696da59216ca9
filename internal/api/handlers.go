// Package api serves the webhook endpoint and the operator API over chi.
package api

import (
	"context"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/queue"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
	"github.com/ignite/outreach-sequencer/internal/service/suppression"
)

// Scheduler is the schedule service surface used by the handlers.
type Scheduler interface {
	Get(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error)
	Reschedule(ctx context.Context, entryID string, newTime time.Time, actor string) (*schedule.RescheduleResult, error)
	Cleanup(ctx context.Context, threadID string) (int, error)
	ListFailed(ctx context.Context, limit, offset int) ([]domain.ScheduleEntry, int, error)
}

// Starter begins a thread's sequence.
type Starter interface {
	StartThread(ctx context.Context, threadID, templateID string) (*generation.StartResult, error)
}

// ThreadReader loads conversation state.
type ThreadReader interface {
	Get(ctx context.Context, id string) (*domain.Thread, error)
}

// Webhooks is the reconciler surface used by the handlers.
type Webhooks interface {
	Ingest(ctx context.Context, kind domain.WebhookKind, payload []byte) (*domain.WebhookRecord, bool, error)
	Process(ctx context.Context, recordID string) (*domain.WebhookRecord, error)
	Get(ctx context.Context, id string) (*domain.WebhookRecord, error)
	ListFailed(ctx context.Context, kind domain.WebhookKind, limit, offset int) ([]domain.WebhookRecord, int, error)
	Backfill(ctx context.Context, kind domain.WebhookKind) (int, error)
}

// Tasks hands work to the queue. A nil Tasks makes the handlers run the
// work inline.
type Tasks interface {
	EnqueueEntry(ctx context.Context, kind, entryID string) (queue.TaskHandle, error)
	EnqueueWebhook(ctx context.Context, recordID string) error
}

// Generator runs generation inline when no queue is configured.
type Generator interface {
	EnsureGenerated(ctx context.Context, entryID string) (*domain.ScheduleEntry, error)
}

// Suppressions manages the recipient suppression list.
type Suppressions interface {
	Suppress(ctx context.Context, email string, reason domain.SuppressionReason, source, threadID string) error
	Remove(ctx context.Context, email string) error
	List(ctx context.Context, filter suppression.ListFilter) ([]domain.Suppression, int, error)
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Schedule     Scheduler
	Starter      Starter
	Threads      ThreadReader
	Webhooks     Webhooks
	Generator    Generator
	Tasks        Tasks
	Suppressions Suppressions
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	Deps
	webhookSecret string
	clock         func() time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(deps Deps, webhookSecret string) *Handlers {
	return &Handlers{Deps: deps, webhookSecret: webhookSecret, clock: time.Now}
}
