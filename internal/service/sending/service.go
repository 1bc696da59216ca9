package sending

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// DefaultMaxAttempts bounds transport retries before an entry is FAILED.
const DefaultMaxAttempts = 3

// Service implements the Send Executor.
type Service struct {
	entries     EntryRepository
	contents    ContentReader
	threads     ThreadRepository
	transports  TransportFactory
	rescheduler Rescheduler

	stats         StatsRecorder
	alerter       Alerter
	suppressions  SuppressionList
	lazyFollowUps bool
	maxAttempts   int
}

// NewService creates a send executor. Follow-ups are created lazily after
// each send unless SetLazyFollowUps(false) is called.
func NewService(entries EntryRepository, contents ContentReader, threads ThreadRepository,
	transports TransportFactory, rescheduler Rescheduler) *Service {
	return &Service{
		entries:       entries,
		contents:      contents,
		threads:       threads,
		transports:    transports,
		rescheduler:   rescheduler,
		lazyFollowUps: true,
		maxAttempts:   DefaultMaxAttempts,
	}
}

// SetLazyFollowUps controls whether the next step is created after a send.
// Threads whose chain was populated up front need no lazy creation.
func (s *Service) SetLazyFollowUps(lazy bool) { s.lazyFollowUps = lazy }

// SetStats sets the per-template send counter.
func (s *Service) SetStats(r StatsRecorder) { s.stats = r }

// SetSuppressionList makes every send check the recipient first.
func (s *Service) SetSuppressionList(l SuppressionList) { s.suppressions = l }

// SetAlerter sets the operator alert sink.
func (s *Service) SetAlerter(a Alerter) { s.alerter = a }

// SetMaxAttempts overrides DefaultMaxAttempts.
func (s *Service) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// SendDue delivers a SCHEDULED entry. Every earlier entry of the thread must
// be SENT.
//
// After a successful send the thread advances to SENT_OUTREACH (initial) or
// BUMPED (follow-up), and every later unsent entry is re-derived from the
// actual send time. An entry that was already sent is not delivered again,
// but its post-send bookkeeping is re-run so a retry completes whatever a
// failed attempt left undone.
func (s *Service) SendDue(ctx context.Context, entryID string) (*domain.ScheduleEntry, error) {
	e, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	switch e.Status {
	case domain.EntrySent:
		return s.resumeSent(ctx, e)
	case domain.EntryFailed:
		return nil, schedule.ErrEntryFailed
	case domain.EntryScheduled:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrNotScheduled, e.Status)
	}
	if !e.HasContent() {
		return nil, fmt.Errorf("%w: content missing", ErrNotScheduled)
	}

	all, err := s.entries.ListForThread(ctx, e.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var prev *domain.ScheduleEntry
	for i := range all {
		p := &all[i]
		if p.StepIndex >= e.StepIndex {
			break
		}
		if !p.IsSent() {
			return nil, fmt.Errorf("%w: step %d is %s", ErrOrderingViolation, p.StepIndex, p.Status)
		}
		prev = p
	}

	thread, err := s.threads.Get(ctx, e.ThreadID)
	if err != nil {
		return nil, err
	}
	if !thread.Status.IsOutbound() {
		if _, err := s.rescheduler.HaltPending(ctx, thread.ID, "halted: thread is "+string(thread.Status)); err != nil {
			return nil, fmt.Errorf("halt pending: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrThreadClosed, thread.Status)
	}
	if s.suppressions != nil {
		suppressed, err := s.suppressions.IsSuppressed(ctx, thread.RecipientEmail)
		if err != nil {
			return nil, fmt.Errorf("check suppression: %w", err)
		}
		if suppressed {
			if _, err := s.rescheduler.HaltPending(ctx, thread.ID, "halted: recipient suppressed"); err != nil {
				return nil, fmt.Errorf("halt pending: %w", err)
			}
			return nil, ErrSuppressed
		}
	}

	msg, err := s.buildMessage(ctx, e, thread, prev)
	if err != nil {
		return nil, err
	}
	transport, err := s.transports.TransportFor(ctx, msg.Mailbox)
	if err != nil {
		return nil, err
	}

	receipt, err := transport.Send(ctx, msg)
	if err != nil {
		return nil, s.fail(ctx, e, err)
	}
	if receipt.SentAt.IsZero() {
		receipt.SentAt = time.Now().UTC()
	}

	if err := s.entries.MarkSent(ctx, e.ID, receipt.MessageID, receipt.ThreadID, receipt.SentAt); err != nil {
		if errors.Is(err, schedule.ErrConflict) {
			return s.entries.Get(ctx, e.ID)
		}
		return nil, fmt.Errorf("mark sent: %w", err)
	}
	e.Status = domain.EntrySent
	e.SentAt = &receipt.SentAt
	e.TransportMessageID = &receipt.MessageID
	e.TransportThreadID = &receipt.ThreadID

	logger.Info("entry sent", "entry_id", e.ID, "thread_id", thread.ID, "step", e.StepIndex,
		"message_id", receipt.MessageID, "recipient_email", thread.RecipientEmail)

	if err := s.afterSend(ctx, e, thread, msg.Subject, false); err != nil {
		return e, err
	}
	return e, nil
}

// resumeSent re-runs the post-send steps for an entry that is already SENT.
// Each step is idempotent: the thread counters are recorded once per entry,
// and the next follow-up is only created while e is the thread's last step.
func (s *Service) resumeSent(ctx context.Context, e *domain.ScheduleEntry) (*domain.ScheduleEntry, error) {
	if e.SentAt == nil {
		return e, nil
	}
	thread, err := s.threads.Get(ctx, e.ThreadID)
	if err != nil {
		return nil, err
	}
	all, err := s.entries.ListForThread(ctx, e.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	hasLater := false
	for i := range all {
		if all[i].StepIndex > e.StepIndex {
			hasLater = true
			break
		}
	}
	var subject string
	if e.SubjectContentID != nil {
		c, err := s.contents.Get(ctx, *e.SubjectContentID)
		if err != nil {
			return nil, fmt.Errorf("load subject: %w", err)
		}
		subject = c.Text
	}
	if err := s.afterSend(ctx, e, thread, subject, hasLater); err != nil {
		return e, err
	}
	return e, nil
}

func (s *Service) afterSend(ctx context.Context, e *domain.ScheduleEntry, thread *domain.Thread, subject string, hasLater bool) error {
	sentAt := *e.SentAt
	status := domain.ThreadSentOutreach
	if e.StepKind == domain.StepFollowUp {
		status = domain.ThreadBumped
	}
	recorded, err := s.threads.RecordSend(ctx, e.ID, thread.ID, status, subject, sentAt)
	if err != nil {
		return fmt.Errorf("record thread send: %w", err)
	}
	if recorded && s.stats != nil {
		if err := s.stats.IncrementSent(ctx, e.TemplateID); err != nil {
			logger.Warn("template sent counter failed", "template_id", e.TemplateID, "error", err)
		}
	}

	if _, err := s.rescheduler.RecomputeAfter(ctx, e, sentAt); err != nil {
		return fmt.Errorf("recompute later steps: %w", err)
	}
	if !s.lazyFollowUps || hasLater || !thread.Status.IsOutbound() {
		return nil
	}
	if _, err := s.rescheduler.NextStep(ctx, thread.ID); err != nil {
		return fmt.Errorf("create next step: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(ctx context.Context, e *domain.ScheduleEntry, thread *domain.Thread, prev *domain.ScheduleEntry) (*Message, error) {
	subject, err := s.contents.Get(ctx, *e.SubjectContentID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	body, err := s.contents.Get(ctx, *e.BodyContentID)
	if err != nil {
		return nil, fmt.Errorf("load body: %w", err)
	}
	mailbox, err := s.threads.Mailbox(ctx, thread.MailboxID)
	if err != nil {
		return nil, fmt.Errorf("load mailbox: %w", err)
	}

	msg := &Message{
		EntryID:        e.ID,
		IdempotencyKey: e.IdempotencyKey(),
		Thread:         thread,
		Mailbox:        mailbox,
		StepIndex:      e.StepIndex,
		Subject:        subject.Text,
		Body:           body.Text,
	}
	if prev != nil && prev.TransportMessageID != nil {
		msg.ReplyToMessageID = *prev.TransportMessageID
	}
	return msg, nil
}

func (s *Service) fail(ctx context.Context, e *domain.ScheduleEntry, cause error) error {
	reason := cause.Error()
	attempts, err := s.entries.RecordAttempt(ctx, e.ID, reason)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if attempts >= s.maxAttempts {
		final := fmt.Sprintf("send failed after %d attempts: %s", attempts, reason)
		if err := s.entries.MarkFailed(ctx, e.ID, final); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		logger.Error("entry send exhausted", "entry_id", e.ID, "thread_id", e.ThreadID, "attempts", attempts)
		if s.alerter != nil {
			s.alerter.Alert(ctx, "sending", e.ID, final)
		}
	} else {
		logger.Warn("entry send failed", "entry_id", e.ID, "attempt", attempts, "error", reason)
	}
	return fmt.Errorf("%w: %s", ErrTransportFailure, reason)
}
