package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/queue"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
	"github.com/ignite/outreach-sequencer/internal/service/sending"
)

// Generator produces content for an entry.
type Generator interface {
	EnsureGenerated(ctx context.Context, entryID string) (*domain.ScheduleEntry, error)
}

// Sender delivers a due entry.
type Sender interface {
	SendDue(ctx context.Context, entryID string) (*domain.ScheduleEntry, error)
}

// WebhookProcessor applies a stored webhook record.
type WebhookProcessor interface {
	Process(ctx context.Context, recordID string) (*domain.WebhookRecord, error)
}

// Register binds the task kinds to their handlers on pool.
//
// Outcomes the services already persisted on the entry (a failed attempt,
// a halted thread, an ordering wait) are acked: the attempt counter in
// Postgres bounds those retries and the sweeps pick the entry up again.
// Anything else is an infrastructure error and goes back through the
// queue's backoff.
func Register(pool queue.Registry, gen Generator, send Sender, webhooks WebhookProcessor) {
	pool.Handle(queue.KindGenerate, GenerateHandler(gen))
	pool.Handle(queue.KindSend, SendHandler(send))
	pool.Handle(queue.KindWebhook, WebhookHandler(webhooks))
}

// GenerateHandler runs EnsureGenerated for the task's entry.
func GenerateHandler(gen Generator) queue.Handler {
	return func(ctx context.Context, t *queue.Task) error {
		var p queue.EntryPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		_, err := gen.EnsureGenerated(ctx, p.EntryID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, generation.ErrGenerationFailure),
			errors.Is(err, generation.ErrNotEligible),
			errors.Is(err, schedule.ErrEntryFailed),
			errors.Is(err, schedule.ErrConflict):
			logger.Info("generation task settled", "entry_id", p.EntryID, "outcome", err.Error())
			return nil
		case errors.Is(err, schedule.ErrNotFound):
			return queue.Permanent(err)
		default:
			return err
		}
	}
}

// SendHandler runs SendDue for the task's entry.
func SendHandler(send Sender) queue.Handler {
	return func(ctx context.Context, t *queue.Task) error {
		var p queue.EntryPayload
		if err := decode(t, &p); err != nil {
			return err
		}
		_, err := send.SendDue(ctx, p.EntryID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, sending.ErrTransportFailure),
			errors.Is(err, sending.ErrOrderingViolation),
			errors.Is(err, sending.ErrNotScheduled),
			errors.Is(err, sending.ErrThreadClosed),
			errors.Is(err, sending.ErrSuppressed),
			errors.Is(err, schedule.ErrEntryFailed),
			errors.Is(err, schedule.ErrConflict):
			logger.Info("send task settled", "entry_id", p.EntryID, "outcome", err.Error())
			return nil
		case errors.Is(err, schedule.ErrNotFound), errors.Is(err, sending.ErrNoTransport):
			return queue.Permanent(err)
		default:
			return err
		}
	}
}

// WebhookHandler processes the task's webhook record.
func WebhookHandler(p WebhookProcessor) queue.Handler {
	return func(ctx context.Context, t *queue.Task) error {
		var payload queue.WebhookPayload
		if err := decode(t, &payload); err != nil {
			return err
		}
		_, err := p.Process(ctx, payload.RecordID)
		if errors.Is(err, reconcile.ErrRecordNotFound) {
			return queue.Permanent(err)
		}
		return err
	}
}

func decode(t *queue.Task, v interface{}) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return queue.Permanent(fmt.Errorf("decode %s payload: %w", t.Kind, err))
	}
	return nil
}
