package schedule

import (
	"context"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Repository defines the data access contract for schedule entries.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single entry. Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.ScheduleEntry, error)

	// CreateOrGet inserts e unless an entry with the same (thread, step kind,
	// template) exists, in which case the existing row is returned.
	// created reports whether a new row was written.
	CreateOrGet(ctx context.Context, e *domain.ScheduleEntry) (stored *domain.ScheduleEntry, created bool, err error)

	// ListForThread returns the thread's entries ordered by step index.
	ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error)

	// LatestQueuedInitial returns the mailbox's unsent INITIAL entry with the
	// latest scheduled time. Follow-ups are ignored. Returns ErrNotFound when
	// no initial send is queued.
	LatestQueuedInitial(ctx context.Context, mailboxID string) (*domain.ScheduleEntry, error)

	// UpdateScheduledAt moves an unsent entry. Returns ErrConflict when the
	// entry was sent in the meantime.
	UpdateScheduledAt(ctx context.Context, id string, at time.Time) error

	// HaltPending marks every NEEDS_GENERATION/SCHEDULED entry of the thread
	// FAILED with the given reason and returns how many were halted.
	HaltPending(ctx context.Context, threadID, reason string) (int, error)

	// DeleteUnsent removes all entries of a thread provided none was sent.
	// Returns ErrHasSentEntries otherwise.
	DeleteUnsent(ctx context.Context, threadID string) (int, error)

	// ListFailed returns FAILED entries, newest first.
	ListFailed(ctx context.Context, limit, offset int) ([]domain.ScheduleEntry, int, error)

	// RecordReschedule stores an audit row for a manual move.
	RecordReschedule(ctx context.Context, a *domain.RescheduleAudit) error
}

// ScheduleRepository stores per-mailbox sending schedules.
type ScheduleRepository interface {
	// ForMailbox returns the mailbox's schedule. Returns ErrNoSchedule if none.
	ForMailbox(ctx context.Context, mailboxID string) (*domain.SendingSchedule, error)

	// Create stores a schedule; if one already exists for the mailbox the
	// existing schedule is returned instead.
	Create(ctx context.Context, s *domain.SendingSchedule) (*domain.SendingSchedule, error)
}

// VolumeProvider supplies the SLA weekly target volume for an SDR.
// Zero means no target is configured.
type VolumeProvider interface {
	VolumeFor(ctx context.Context, sdrID string, date time.Time) (int, error)
}

// ThreadReader loads threads. Returns ErrThreadNotFound if missing.
type ThreadReader interface {
	Get(ctx context.Context, id string) (*domain.Thread, error)
}
