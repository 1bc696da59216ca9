package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// ThreadRepo reads threads, prospects and mailboxes, and applies the
// compare-and-set status transitions.
type ThreadRepo struct{ db *sql.DB }

// NewThreadRepo creates a Postgres-backed thread repository.
func NewThreadRepo(db *sql.DB) *ThreadRepo { return &ThreadRepo{db: db} }

const threadColumns = `
	id, prospect_id, sdr_id, mailbox_id, persona_id, recipient_email, external_campaign_id,
	status, sent_count, bump_count, last_subject, last_reply_body,
	last_sent_at, last_opened_at, last_replied_at, bounced_at, last_event_record_id, updated_at`

func scanThread(s rowScanner) (*domain.Thread, error) {
	t := &domain.Thread{}
	err := s.Scan(&t.ID, &t.ProspectID, &t.SDRID, &t.MailboxID, &t.PersonaID, &t.RecipientEmail,
		&t.ExternalCampaignID, &t.Status, &t.SentCount, &t.BumpCount, &t.LastSubject, &t.LastReplyBody,
		&t.LastSentAt, &t.LastOpenedAt, &t.LastRepliedAt, &t.BouncedAt, &t.LastEventRecordID, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *ThreadRepo) Get(ctx context.Context, id string) (*domain.Thread, error) {
	t, err := scanThread(r.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM email_threads WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, schedule.ErrThreadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return t, nil
}

// FindByRecipient matches the recipient case-insensitively. With several
// matches the most recently updated thread wins.
func (r *ThreadRepo) FindByRecipient(ctx context.Context, email, externalCampaignID string) (*domain.Thread, error) {
	t, err := scanThread(r.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+` FROM email_threads
		WHERE LOWER(recipient_email) = $1 AND external_campaign_id = $2
		ORDER BY updated_at DESC
		LIMIT 1
	`, strings.ToLower(strings.TrimSpace(email)), externalCampaignID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: campaign %s", reconcile.ErrNoMatchingThread, externalCampaignID)
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	return t, nil
}

func (r *ThreadRepo) Prospect(ctx context.Context, id string) (*domain.Prospect, error) {
	p := &domain.Prospect{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, title, company, industry, email
		FROM prospects WHERE id = $1
	`, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Title, &p.Company, &p.Industry, &p.Email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("prospect %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get prospect: %w", err)
	}
	return p, nil
}

func (r *ThreadRepo) Mailbox(ctx context.Context, id string) (*domain.Mailbox, error) {
	m := &domain.Mailbox{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sdr_id, address, name, provider FROM mailboxes WHERE id = $1
	`, id).Scan(&m.ID, &m.SDRID, &m.Address, &m.Name, &m.Provider)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mailbox %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return m, nil
}

// RecordSend bumps the counters and moves the status, but leaves the status
// alone once the thread has left the outbound states. The entry's
// send_recorded_at marker makes a repeated call for the same entry a no-op.
func (r *ThreadRepo) RecordSend(ctx context.Context, entryID, threadID string, status domain.ThreadStatus, subject string, sentAt time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE schedule_entries SET send_recorded_at = NOW()
		WHERE id = $1 AND send_recorded_at IS NULL
	`, entryID)
	if err != nil {
		return false, fmt.Errorf("mark send recorded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	bump := 0
	if status == domain.ThreadBumped {
		bump = 1
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE email_threads
		SET sent_count = sent_count + 1,
		    bump_count = bump_count + $3,
		    last_subject = $4,
		    last_sent_at = $5,
		    status = CASE WHEN status IN ('NOT_SENT', 'SENT_OUTREACH', 'EMAIL_OPENED', 'BUMPED')
		                  THEN $2 ELSE status END,
		    updated_at = NOW()
		WHERE id = $1
	`, threadID, status, bump, subject, sentAt.UTC())
	if err != nil {
		return false, fmt.Errorf("record send: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, schedule.ErrThreadNotFound
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (r *ThreadRepo) Transition(ctx context.Context, threadID string, from []domain.ThreadStatus, to domain.ThreadStatus, t reconcile.Touch) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}

	set := "status = $3, updated_at = NOW()"
	args := []interface{}{threadID, pq.Array(states), to}
	switch t.Kind {
	case domain.WebhookSent:
		set += ", last_sent_at = COALESCE(last_sent_at, $4)"
		args = append(args, t.At.UTC())
	case domain.WebhookOpened:
		set += ", last_opened_at = $4"
		args = append(args, t.At.UTC())
	case domain.WebhookReplied:
		set += ", last_replied_at = $4, last_reply_body = $5"
		args = append(args, t.At.UTC(), t.ReplyBody)
	case domain.WebhookBounced:
		set += ", bounced_at = $4"
		args = append(args, t.At.UTC())
	}

	args = append(args, t.RecordID)
	set += fmt.Sprintf(", last_event_record_id = $%d", len(args))

	res, err := r.db.ExecContext(ctx,
		`UPDATE email_threads SET `+set+` WHERE id = $1 AND status = ANY($2)`, args...)
	if err != nil {
		return false, fmt.Errorf("transition thread: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
