// Package sending hands fully generated schedule entries to an email
// transport and records the outcome.
//
// Each mailbox provider (Smartlead, SES) implements the Transport interface.
// The executor uses the TransportFactory to resolve which Transport to use
// for a given mailbox, which keeps it provider-agnostic.
package sending

import (
	"context"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Message is one outbound step ready for delivery.
type Message struct {
	EntryID        string
	IdempotencyKey string
	Thread         *domain.Thread
	Mailbox        *domain.Mailbox
	StepIndex      int
	Subject        string
	Body           string
	// ReplyToMessageID is the previous step's transport message id; empty
	// for the initial step.
	ReplyToMessageID string
}

// Receipt is the transport's acknowledgement of a send.
type Receipt struct {
	MessageID string
	ThreadID  string
	SentAt    time.Time
}

// Transport sends a single message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg *Message) (*Receipt, error)
}

// TransportFactory resolves a Transport for a mailbox.
type TransportFactory interface {
	TransportFor(ctx context.Context, mailbox *domain.Mailbox) (Transport, error)
}

// EntryRepository is the slice of the entry store the executor mutates.
type EntryRepository interface {
	Get(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error)

	// MarkSent moves a SCHEDULED entry to SENT with the transport ids.
	// Returns schedule.ErrConflict if the entry is no longer SCHEDULED.
	MarkSent(ctx context.Context, id, messageID, threadID string, sentAt time.Time) error

	RecordAttempt(ctx context.Context, id, reason string) (int, error)
	MarkFailed(ctx context.Context, id, reason string) error
}

// ContentReader loads generated subjects and bodies.
type ContentReader interface {
	Get(ctx context.Context, id string) (*domain.GeneratedContent, error)
}

// ThreadRepository reads threads and records outbound touches.
type ThreadRepository interface {
	Get(ctx context.Context, id string) (*domain.Thread, error)
	Mailbox(ctx context.Context, id string) (*domain.Mailbox, error)

	// RecordSend bumps the thread's sent counters for entryID and moves it
	// to status, but only while the thread is still outbound. A second call
	// for the same entry changes nothing and reports recorded=false.
	RecordSend(ctx context.Context, entryID, threadID string, status domain.ThreadStatus, subject string, sentAt time.Time) (recorded bool, err error)
}

// Rescheduler re-derives later entries after a send. *schedule.Service
// satisfies it.
type Rescheduler interface {
	RecomputeAfter(ctx context.Context, anchorEntry *domain.ScheduleEntry, anchor time.Time) (int, error)
	NextStep(ctx context.Context, threadID string) (string, error)
	HaltPending(ctx context.Context, threadID, reason string) (int, error)
}

// StatsRecorder counts sends per template.
type StatsRecorder interface {
	IncrementSent(ctx context.Context, templateID string) error
}

// Alerter surfaces entries that exhausted their retries to an operator.
type Alerter interface {
	Alert(ctx context.Context, component, entityID, reason string)
}

// SuppressionList reports recipients that must not be mailed.
type SuppressionList interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}
