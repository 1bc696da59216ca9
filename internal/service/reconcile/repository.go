package reconcile

import (
	"context"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// RecordRepository persists webhook processing records.
type RecordRepository interface {
	// CreateOrGet inserts r unless a record with the same (kind, payload
	// hash) exists, in which case the existing record is returned.
	CreateOrGet(ctx context.Context, r *domain.WebhookRecord) (stored *domain.WebhookRecord, created bool, err error)

	// Get returns ErrRecordNotFound if missing.
	Get(ctx context.Context, id string) (*domain.WebhookRecord, error)

	// Claim moves a PENDING or FAILED record to PROCESSING and increments
	// its attempts. It reports false when the record is in any other state.
	Claim(ctx context.Context, id string) (bool, error)

	Complete(ctx context.Context, id, outcome string) error
	Fail(ctx context.Context, id, reason string) error

	// Requeue resets a record to PENDING.
	Requeue(ctx context.Context, id string) error

	// ListStale returns PENDING or PROCESSING records last updated before
	// cutoff, oldest first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.WebhookRecord, error)

	// ListFailed returns FAILED records, optionally filtered by kind.
	ListFailed(ctx context.Context, kind domain.WebhookKind, limit, offset int) ([]domain.WebhookRecord, int, error)
}

// Touch carries the event details stored alongside a transition. RecordID
// is the webhook record that caused it.
type Touch struct {
	RecordID  string
	Kind      domain.WebhookKind
	At        time.Time
	ReplyBody string
}

// ThreadRepository resolves and transitions threads.
type ThreadRepository interface {
	// FindByRecipient returns ErrNoMatchingThread when nothing matches.
	FindByRecipient(ctx context.Context, email, externalCampaignID string) (*domain.Thread, error)

	// Transition moves the thread to `to` only if its current status is in
	// from, recording the touch and its record id as the thread's
	// LastEventRecordID. It reports whether the row changed.
	Transition(ctx context.Context, threadID string, from []domain.ThreadStatus, to domain.ThreadStatus, t Touch) (bool, error)
}

// EntryReader lists a thread's schedule entries in step order.
type EntryReader interface {
	ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error)
}

// AnalyticsRepository holds the cascading per-template counters. Each
// webhook record is counted at most once; a repeated call with the same
// recordID changes nothing.
type AnalyticsRepository interface {
	IncrementOpened(ctx context.Context, recordID string, templateIDs []string) error
	IncrementReplied(ctx context.Context, recordID string, templateIDs []string) error
}

// Classifier maps a reply to the thread's next sub-status.
type Classifier interface {
	Classify(ctx context.Context, thread *domain.Thread, replyBody string) (domain.ThreadStatus, error)
}

// Halter stops a thread's unsent steps. *schedule.Service satisfies it.
type Halter interface {
	HaltPending(ctx context.Context, threadID, reason string) (int, error)
}

// Decoder turns a raw payload into a DeliveryEvent.
type Decoder interface {
	Decode(kind domain.WebhookKind, payload []byte) (*domain.DeliveryEvent, error)
}

// Archiver keeps a copy of every raw payload.
type Archiver interface {
	Archive(ctx context.Context, r *domain.WebhookRecord) error
}

// Enqueuer schedules asynchronous processing of a record.
type Enqueuer interface {
	EnqueueWebhook(ctx context.Context, recordID string) error
}

// Suppressor adds a recipient to the suppression list.
type Suppressor interface {
	Suppress(ctx context.Context, email string, reason domain.SuppressionReason, source, threadID string) error
}
