package generation

import (
	"context"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// EntryRepository is the slice of the entry store the generation trigger
// mutates.
type EntryRepository interface {
	Get(ctx context.Context, id string) (*domain.ScheduleEntry, error)
	ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error)

	// AttachContent sets both content references and moves the entry from
	// NEEDS_GENERATION to SCHEDULED. Returns schedule.ErrConflict when the
	// entry is no longer NEEDS_GENERATION.
	AttachContent(ctx context.Context, id, subjectID, bodyID string) error

	// RecordAttempt increments the entry's attempt counter, stores reason as
	// the last error and returns the new count.
	RecordAttempt(ctx context.Context, id, reason string) (int, error)

	// MarkFailed moves an unsent entry to FAILED with reason.
	MarkFailed(ctx context.Context, id, reason string) error
}

// ContentRepository stores generated subjects and bodies.
type ContentRepository interface {
	Create(ctx context.Context, c *domain.GeneratedContent) error
	// Get returns ErrContentNotFound if missing.
	Get(ctx context.Context, id string) (*domain.GeneratedContent, error)
}

// ThreadReader loads threads and their prospects.
type ThreadReader interface {
	Get(ctx context.Context, id string) (*domain.Thread, error)
	Prospect(ctx context.Context, prospectID string) (*domain.Prospect, error)
}

// TemplateReader loads templates by id.
type TemplateReader interface {
	Get(ctx context.Context, id string) (*domain.SequenceTemplate, error)
}

// Scheduler creates schedule entries. *schedule.Service satisfies it.
type Scheduler interface {
	CreateOrGet(ctx context.Context, in schedule.CreateInput) (string, error)
	PopulateSequence(ctx context.Context, threadID, initialTemplateID string, content *schedule.ContentIDs) ([]string, error)
	HaltPending(ctx context.Context, threadID, reason string) (int, error)
}

// Request is everything a Generator needs for one step.
type Request struct {
	Thread          *domain.Thread
	Prospect        *domain.Prospect
	Template        *domain.SequenceTemplate
	StepIndex       int
	PreviousSubject string
}

// Content is a generated message. Subject is ignored for follow-ups.
type Content struct {
	Subject string
	Body    string
}

// Generator produces message content. Implementations may fail; callers
// retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Content, error)
}

// Alerter surfaces entries that exhausted their retries to an operator.
type Alerter interface {
	Alert(ctx context.Context, component, entityID, reason string)
}
