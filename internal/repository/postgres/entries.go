package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// EntryRepo implements the schedule entry store against PostgreSQL. It
// satisfies schedule.Repository and the entry contracts of the generation,
// sending and reconcile services.
type EntryRepo struct{ db *sql.DB }

// NewEntryRepo creates a Postgres-backed entry repository.
func NewEntryRepo(db *sql.DB) *EntryRepo { return &EntryRepo{db: db} }

const entryColumns = `
	id, sdr_id, mailbox_id, thread_id, step_kind, step_index, template_id,
	subject_content_id, body_content_id, status, scheduled_at,
	transport_message_id, transport_thread_id, sent_at, attempts, last_error,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(s rowScanner) (*domain.ScheduleEntry, error) {
	e := &domain.ScheduleEntry{}
	err := s.Scan(
		&e.ID, &e.SDRID, &e.MailboxID, &e.ThreadID, &e.StepKind, &e.StepIndex, &e.TemplateID,
		&e.SubjectContentID, &e.BodyContentID, &e.Status, &e.ScheduledAt,
		&e.TransportMessageID, &e.TransportThreadID, &e.SentAt, &e.Attempts, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *EntryRepo) queryEntries(ctx context.Context, what, q string, args ...interface{}) ([]domain.ScheduleEntry, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *EntryRepo) Get(ctx context.Context, id string) (*domain.ScheduleEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM schedule_entries WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// CreateOrGet relies on the (thread_id, step_kind, template_id) unique key.
// When the insert loses a race the winner's row is read back.
func (r *EntryRepo) CreateOrGet(ctx context.Context, e *domain.ScheduleEntry) (*domain.ScheduleEntry, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_entries
			(id, sdr_id, mailbox_id, thread_id, step_kind, step_index, template_id,
			 subject_content_id, body_content_id, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT DO NOTHING
	`, e.ID, e.SDRID, e.MailboxID, e.ThreadID, e.StepKind, e.StepIndex, e.TemplateID,
		e.SubjectContentID, e.BodyContentID, e.Status, e.ScheduledAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert entry: %w", err)
	}
	n, _ := res.RowsAffected()

	stored, err := scanEntry(r.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM schedule_entries
		WHERE thread_id = $1 AND step_kind = $2 AND template_id = $3
	`, e.ThreadID, e.StepKind, e.TemplateID))
	if err == sql.ErrNoRows {
		// Lost on the (thread_id, step_index) key to a different template.
		return nil, false, fmt.Errorf("%w: step %d of thread %s taken", schedule.ErrConflict, e.StepIndex, e.ThreadID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read back entry: %w", err)
	}
	return stored, n > 0, nil
}

func (r *EntryRepo) ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error) {
	return r.queryEntries(ctx, "list thread entries",
		`SELECT `+entryColumns+` FROM schedule_entries WHERE thread_id = $1 ORDER BY step_index`, threadID)
}

func (r *EntryRepo) LatestQueuedInitial(ctx context.Context, mailboxID string) (*domain.ScheduleEntry, error) {
	e, err := scanEntry(r.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM schedule_entries
		WHERE mailbox_id = $1 AND step_kind = 'INITIAL'
		  AND status IN ('NEEDS_GENERATION', 'SCHEDULED')
		ORDER BY scheduled_at DESC
		LIMIT 1
	`, mailboxID))
	if err == sql.ErrNoRows {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest queued initial: %w", err)
	}
	return e, nil
}

func (r *EntryRepo) UpdateScheduledAt(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_entries SET scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('NEEDS_GENERATION', 'SCHEDULED')
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("update scheduled_at: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *EntryRepo) HaltPending(ctx context.Context, threadID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_entries SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE thread_id = $1 AND status IN ('NEEDS_GENERATION', 'SCHEDULED')
	`, threadID, reason)
	if err != nil {
		return 0, fmt.Errorf("halt pending: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *EntryRepo) DeleteUnsent(ctx context.Context, threadID string) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var sent bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM schedule_entries WHERE thread_id = $1 AND status = 'SENT')
	`, threadID).Scan(&sent); err != nil {
		return 0, fmt.Errorf("check sent entries: %w", err)
	}
	if sent {
		return 0, schedule.ErrHasSentEntries
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM schedule_entries WHERE thread_id = $1`, threadID)
	if err != nil {
		return 0, fmt.Errorf("delete entries: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

func (r *EntryRepo) ListFailed(ctx context.Context, limit, offset int) ([]domain.ScheduleEntry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM schedule_entries WHERE status = 'FAILED'`,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count failed entries: %w", err)
	}
	out, err := r.queryEntries(ctx, "list failed entries", `
		SELECT `+entryColumns+` FROM schedule_entries
		WHERE status = 'FAILED'
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return out, total, err
}

func (r *EntryRepo) RecordReschedule(ctx context.Context, a *domain.RescheduleAudit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO schedule_reschedules (id, entry_id, old_time, new_time, shifted, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.EntryID, a.OldTime, a.NewTime, a.Shifted, a.Actor, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("record reschedule: %w", err)
	}
	return nil
}

func (r *EntryRepo) AttachContent(ctx context.Context, id, subjectID, bodyID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_entries
		SET subject_content_id = $2, body_content_id = $3, status = 'SCHEDULED',
		    attempts = 0,
		    last_error = '', updated_at = NOW()
		WHERE id = $1 AND status = 'NEEDS_GENERATION'
	`, id, subjectID, bodyID)
	if err != nil {
		return fmt.Errorf("attach content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

func (r *EntryRepo) RecordAttempt(ctx context.Context, id, reason string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `
		UPDATE schedule_entries SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts
	`, id, reason).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, schedule.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	return attempts, nil
}

func (r *EntryRepo) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_entries SET status = 'FAILED', last_error = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'SENT'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// MarkSent also re-checks the ordering invariant inside the UPDATE so a
// concurrent send of an earlier step cannot be overtaken.
func (r *EntryRepo) MarkSent(ctx context.Context, id, messageID, threadID string, sentAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE schedule_entries e
		SET status = 'SENT', transport_message_id = $2, transport_thread_id = $3,
		    sent_at = $4, last_error = '', updated_at = NOW()
		WHERE e.id = $1 AND e.status = 'SCHEDULED'
		  AND NOT EXISTS (
		      SELECT 1 FROM schedule_entries p
		      WHERE p.thread_id = e.thread_id AND p.step_index < e.step_index AND p.status <> 'SENT'
		  )
	`, id, messageID, threadID, sentAt.UTC())
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missingOrConflict(ctx, id)
	}
	return nil
}

// ListDueForGeneration returns NEEDS_GENERATION entries scheduled before
// horizon that have not exhausted their attempts, earliest first.
func (r *EntryRepo) ListDueForGeneration(ctx context.Context, horizon time.Time, maxAttempts, limit int) ([]domain.ScheduleEntry, error) {
	return r.queryEntries(ctx, "list entries needing generation", `
		SELECT `+entryColumns+` FROM schedule_entries
		WHERE status = 'NEEDS_GENERATION' AND scheduled_at <= $1 AND attempts < $2
		ORDER BY scheduled_at
		LIMIT $3
	`, horizon.UTC(), maxAttempts, limit)
}

// ListDueForSend returns, per thread, the earliest unsent entry when it is
// SCHEDULED and due.
func (r *EntryRepo) ListDueForSend(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.ScheduleEntry, error) {
	return r.queryEntries(ctx, "list due entries", `
		SELECT `+entryColumns+` FROM (
			SELECT DISTINCT ON (thread_id) *
			FROM schedule_entries
			WHERE status <> 'SENT'
			ORDER BY thread_id, step_index
		) e
		WHERE status = 'SCHEDULED' AND scheduled_at <= $1 AND attempts < $2
		ORDER BY scheduled_at
		LIMIT $3
	`, now.UTC(), maxAttempts, limit)
}

// ListExhausted returns unsent, non-FAILED entries whose attempts reached
// the bound for their stage: generation for NEEDS_GENERATION, sending for
// SCHEDULED.
func (r *EntryRepo) ListExhausted(ctx context.Context, generationMax, sendMax, limit int) ([]domain.ScheduleEntry, error) {
	return r.queryEntries(ctx, "list exhausted entries", `
		SELECT `+entryColumns+` FROM schedule_entries
		WHERE (status = 'NEEDS_GENERATION' AND attempts >= $1)
		   OR (status = 'SCHEDULED' AND attempts >= $2)
		ORDER BY updated_at
		LIMIT $3
	`, generationMax, sendMax, limit)
}

// missingOrConflict distinguishes a missing row from a failed guard.
func (r *EntryRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schedule_entries WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check entry: %w", err)
	}
	if !exists {
		return schedule.ErrNotFound
	}
	return schedule.ErrConflict
}
