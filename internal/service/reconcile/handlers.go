package reconcile

import (
	"context"
	"fmt"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

const (
	outcomeApplied = "applied"
	outcomeSkipped = "skipped"
)

func (s *Service) handle(ctx context.Context, rec *domain.WebhookRecord) (string, error) {
	ev, err := s.decoder.Decode(rec.Kind, rec.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.clock().UTC()
	}

	thread, err := s.threads.FindByRecipient(ctx, ev.RecipientEmail, ev.ExternalCampaignID)
	if err != nil {
		return "", err
	}

	// The thread already carries this record's transition when an earlier
	// attempt failed after the compare-and-set. Only the side effects are
	// left to apply, and each of them is idempotent.
	resumed := thread.LastEventRecordID == rec.ID
	touch := Touch{RecordID: rec.ID, Kind: ev.Kind, At: ev.OccurredAt}

	switch rec.Kind {
	case domain.WebhookSent:
		return s.onSent(ctx, thread, touch, resumed)
	case domain.WebhookOpened:
		return s.onOpened(ctx, thread, touch, resumed)
	case domain.WebhookReplied:
		touch.ReplyBody = ev.Body
		return s.onReplied(ctx, thread, touch, resumed)
	case domain.WebhookBounced:
		return s.onBounced(ctx, thread, touch, resumed)
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, rec.Kind)
}

func (s *Service) onSent(ctx context.Context, thread *domain.Thread, t Touch, resumed bool) (string, error) {
	if resumed {
		return outcomeApplied, nil
	}
	ok, err := s.threads.Transition(ctx, thread.ID, []domain.ThreadStatus{domain.ThreadNotSent},
		domain.ThreadSentOutreach, t)
	if err != nil {
		return "", err
	}
	return outcome(ok, thread), nil
}

// onOpened applies only to SENT_OUTREACH; any later state means the open
// arrived out of order.
func (s *Service) onOpened(ctx context.Context, thread *domain.Thread, t Touch, resumed bool) (string, error) {
	if !resumed {
		ok, err := s.threads.Transition(ctx, thread.ID, []domain.ThreadStatus{domain.ThreadSentOutreach},
			domain.ThreadEmailOpened, t)
		if err != nil || !ok {
			return outcome(ok, thread), err
		}
	}

	templates, err := s.sentTemplates(ctx, thread)
	if err != nil {
		return "", err
	}
	if err := s.analytics.IncrementOpened(ctx, t.RecordID, templates); err != nil {
		return "", fmt.Errorf("open analytics: %w", err)
	}
	return outcomeApplied, nil
}

func (s *Service) onReplied(ctx context.Context, thread *domain.Thread, t Touch, resumed bool) (string, error) {
	next := thread.Status
	if !resumed {
		if !thread.Status.IsOutbound() {
			return outcome(false, thread), nil
		}
		var err error
		next, err = s.classifier.Classify(ctx, thread, t.ReplyBody)
		if err != nil {
			logger.Warn("reply classification failed, defaulting", "thread_id", thread.ID, "error", err)
			next = domain.ThreadActiveConvo
		}
		if !next.Valid() || next.IsOutbound() || next == domain.ThreadBounced {
			next = domain.ThreadActiveConvo
		}

		ok, err := s.threads.Transition(ctx, thread.ID, outbound, next, t)
		if err != nil || !ok {
			return outcome(ok, thread), err
		}
	}

	if _, err := s.halter.HaltPending(ctx, thread.ID, "halted: prospect replied"); err != nil {
		return "", fmt.Errorf("halt pending: %w", err)
	}
	templates, err := s.sentTemplates(ctx, thread)
	if err != nil {
		return "", err
	}
	if err := s.analytics.IncrementReplied(ctx, t.RecordID, templates); err != nil {
		return "", fmt.Errorf("reply analytics: %w", err)
	}
	return outcomeApplied + ": " + string(next), nil
}

func (s *Service) onBounced(ctx context.Context, thread *domain.Thread, t Touch, resumed bool) (string, error) {
	// A bounce marks the address dead whatever state the thread is in.
	if s.suppressor != nil {
		if err := s.suppressor.Suppress(ctx, thread.RecipientEmail, domain.SuppressBounce, "webhook", thread.ID); err != nil {
			return "", fmt.Errorf("suppress recipient: %w", err)
		}
	}
	if !resumed {
		ok, err := s.threads.Transition(ctx, thread.ID, outbound, domain.ThreadBounced, t)
		if err != nil || !ok {
			return outcome(ok, thread), err
		}
	}
	if _, err := s.halter.HaltPending(ctx, thread.ID, "halted: bounced"); err != nil {
		return "", fmt.Errorf("halt pending: %w", err)
	}
	return outcomeApplied, nil
}

// sentTemplates returns the templates of the thread's sent entries, capped
// at the thread's sent count. The transport reports no step index, so the
// sent count stands in for how many steps went out.
func (s *Service) sentTemplates(ctx context.Context, thread *domain.Thread) ([]string, error) {
	entries, err := s.entries.ListForThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var ids []string
	for i := range entries {
		if len(ids) >= thread.SentCount {
			break
		}
		if entries[i].IsSent() {
			ids = append(ids, entries[i].TemplateID)
		}
	}
	return ids, nil
}

func outcome(applied bool, thread *domain.Thread) string {
	if applied {
		return outcomeApplied
	}
	return outcomeSkipped + ": thread is " + string(thread.Status)
}
