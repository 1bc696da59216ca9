package schedule

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/sendwindow"
	"github.com/ignite/outreach-sequencer/internal/service/sequence"
)

// TemplateSource resolves templates for thread steps. *sequence.Resolver
// satisfies it.
type TemplateSource interface {
	Get(ctx context.Context, id string) (*domain.SequenceTemplate, error)
	Resolve(ctx context.Context, personaID string, step sequence.Step, usedAssets map[string]bool) (*domain.SequenceTemplate, error)
	Chain(ctx context.Context, personaID, initialTemplateID string) ([]domain.SequenceTemplate, error)
}

// DefaultWindow is the sending schedule created for a mailbox that has none.
type DefaultWindow struct {
	Weekdays  []time.Weekday
	StartHour int
	EndHour   int
	Timezone  string
}

// StandardWindow is Monday to Friday, 9:00 to 17:00 US Pacific.
var StandardWindow = DefaultWindow{
	Weekdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	StartHour: 9,
	EndHour:   17,
	Timezone:  "America/Los_Angeles",
}

// Service implements the Schedule Entry Store and the Rescheduler.
type Service struct {
	entries   Repository
	schedules ScheduleRepository
	volumes   VolumeProvider
	threads   ThreadReader
	templates TemplateSource

	clock  func() time.Time
	jitter func(time.Time) time.Time
	window DefaultWindow
}

// NewService wires the store to its collaborators. Jitter is disabled until
// SetJitter is called.
func NewService(entries Repository, schedules ScheduleRepository, volumes VolumeProvider,
	threads ThreadReader, templates TemplateSource) *Service {
	return &Service{
		entries:   entries,
		schedules: schedules,
		volumes:   volumes,
		threads:   threads,
		templates: templates,
		clock:     time.Now,
		jitter:    func(t time.Time) time.Time { return t },
		window:    StandardWindow,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// SetJitter enables bounded random jitter on initial send times.
func (s *Service) SetJitter(rng *rand.Rand) {
	s.jitter = func(t time.Time) time.Time { return sendwindow.Jitter(rng, t) }
}

// SetDefaultWindow overrides the schedule created for mailboxes without one.
func (s *Service) SetDefaultWindow(w DefaultWindow) { s.window = w }

// CreateInput describes one logical step. A zero ScheduledAt lets the store
// compute the time from the mailbox cadence (initial) or the previous step's
// delay (follow-up).
type CreateInput struct {
	ThreadID         string
	StepKind         domain.StepKind
	TemplateID       string
	ScheduledAt      time.Time
	SubjectContentID *string
	BodyContentID    *string
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, id string) (*domain.ScheduleEntry, error) {
	return s.entries.Get(ctx, id)
}

// ListForThread returns a thread's entries in step order.
func (s *Service) ListForThread(ctx context.Context, threadID string) ([]domain.ScheduleEntry, error) {
	return s.entries.ListForThread(ctx, threadID)
}

// ListFailed returns the operator queue of FAILED entries.
func (s *Service) ListFailed(ctx context.Context, limit, offset int) ([]domain.ScheduleEntry, int, error) {
	return s.entries.ListFailed(ctx, limit, offset)
}

// CreateOrGet returns the id of the entry for (thread, step kind, template),
// creating it when it does not exist yet. Concurrent callers converge on the
// same row.
func (s *Service) CreateOrGet(ctx context.Context, in CreateInput) (string, error) {
	thread, err := s.threads.Get(ctx, in.ThreadID)
	if err != nil {
		return "", err
	}
	existing, err := s.entries.ListForThread(ctx, thread.ID)
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}
	for i := range existing {
		e := &existing[i]
		if e.StepKind == in.StepKind && e.TemplateID == in.TemplateID {
			return e.ID, nil
		}
	}

	at := in.ScheduledAt
	var prev *domain.ScheduleEntry
	if n := len(existing); n > 0 {
		prev = &existing[n-1]
	}
	if in.StepKind == domain.StepInitial && len(existing) > 0 {
		return "", fmt.Errorf("%w: thread %s already has an initial step", ErrOrdering, thread.ID)
	}
	if in.StepKind == domain.StepFollowUp && prev == nil {
		return "", fmt.Errorf("%w: follow-up without an initial step", ErrOrdering)
	}

	if at.IsZero() {
		sched, err := s.ScheduleFor(ctx, thread)
		if err != nil {
			return "", err
		}
		if prev == nil {
			at, err = s.initialTime(ctx, thread, sched)
		} else {
			at, err = s.followUpAfter(ctx, sched, prev)
		}
		if err != nil {
			return "", err
		}
	} else if prev != nil && !at.After(prev.ScheduledAt) {
		return "", fmt.Errorf("%w: %s is not after step %d at %s", ErrOrdering,
			at.Format(time.RFC3339), prev.StepIndex, prev.ScheduledAt.Format(time.RFC3339))
	}

	stored, err := s.insert(ctx, thread, in, len(existing), at)
	if err != nil {
		return "", err
	}
	return stored.ID, nil
}

// PopulateSequence builds the thread's full forward chain in one pass: the
// initial step, the optional ACCEPTED follow-up, then BUMPED follow-ups up
// to domain.MaxBumps. Steps that already exist are returned as-is. content,
// when non-nil, is attached to the initial step.
func (s *Service) PopulateSequence(ctx context.Context, threadID, initialTemplateID string, content *ContentIDs) ([]string, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	chain, err := s.templates.Chain(ctx, thread.PersonaID, initialTemplateID)
	if err != nil {
		return nil, fmt.Errorf("resolve chain: %w", err)
	}
	sched, err := s.ScheduleFor(ctx, thread)
	if err != nil {
		return nil, err
	}
	existing, err := s.entries.ListForThread(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	byIndex := make(map[int]*domain.ScheduleEntry, len(existing))
	for i := range existing {
		byIndex[existing[i].StepIndex] = &existing[i]
	}

	ids := make([]string, 0, len(chain))
	var prevAt time.Time
	for i := range chain {
		if e, ok := byIndex[i]; ok {
			ids = append(ids, e.ID)
			prevAt = e.ScheduledAt
			continue
		}

		in := CreateInput{ThreadID: thread.ID, StepKind: domain.StepFollowUp, TemplateID: chain[i].ID}
		var at time.Time
		if i == 0 {
			in.StepKind = domain.StepInitial
			if content != nil {
				in.SubjectContentID, in.BodyContentID = content.Subject, content.Body
			}
			at, err = s.initialTime(ctx, thread, sched)
		} else {
			at, err = sendwindow.FollowUpTime(sched, prevAt, chain[i-1].Delay())
		}
		if err != nil {
			return ids, err
		}

		stored, err := s.insert(ctx, thread, in, i, at)
		if err != nil {
			return ids, err
		}
		ids = append(ids, stored.ID)
		prevAt = stored.ScheduledAt
	}
	return ids, nil
}

// ContentIDs references already generated subject and body content.
type ContentIDs struct {
	Subject *string
	Body    *string
}

// NextStep creates the follow-up after the thread's last entry. It returns
// "" when the chain is exhausted (no eligible template or MaxBumps reached).
func (s *Service) NextStep(ctx context.Context, threadID string) (string, error) {
	thread, err := s.threads.Get(ctx, threadID)
	if err != nil {
		return "", err
	}
	existing, err := s.entries.ListForThread(ctx, thread.ID)
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}
	if len(existing) == 0 {
		return "", fmt.Errorf("%w: thread %s has no initial step", ErrOrdering, thread.ID)
	}

	chain := make([]domain.SequenceTemplate, 0, len(existing))
	hasAccepted := false
	for i := range existing {
		t, err := s.templates.Get(ctx, existing[i].TemplateID)
		if err != nil {
			return "", fmt.Errorf("load template %s: %w", existing[i].TemplateID, err)
		}
		if t.Trigger == domain.TriggerAccepted {
			hasAccepted = true
		}
		chain = append(chain, *t)
	}
	used := sequence.UsedAssets(chain)

	followUp := len(existing)
	step := sequence.StepFor(followUp, hasAccepted)
	if followUp == 1 {
		step = sequence.StepFor(1, true)
	}
	if step.Trigger == domain.TriggerBumped && step.BumpCount > domain.MaxBumps {
		return "", nil
	}
	tmpl, err := s.templates.Resolve(ctx, thread.PersonaID, step, used)
	if errors.Is(err, sequence.ErrNoTemplate) && followUp == 1 {
		// No ACCEPTED template; the chain goes straight to the bumps.
		tmpl, err = s.templates.Resolve(ctx, thread.PersonaID, sequence.StepFor(1, false), used)
	}
	if errors.Is(err, sequence.ErrNoTemplate) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return s.CreateOrGet(ctx, CreateInput{
		ThreadID:   thread.ID,
		StepKind:   domain.StepFollowUp,
		TemplateID: tmpl.ID,
	})
}

// RescheduleResult reports a successful move.
type RescheduleResult struct {
	Entry   *domain.ScheduleEntry `json:"entry"`
	Shifted int                   `json:"shifted"`
}

// Reschedule moves an unsent entry to newTime and cascades the change to
// every later unsent entry of the thread, each re-derived from its
// predecessor's template delay and re-clamped to the mailbox window.
func (s *Service) Reschedule(ctx context.Context, entryID string, newTime time.Time, actor string) (*RescheduleResult, error) {
	if newTime.Before(s.clock()) {
		return nil, ErrPastDate
	}
	e, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	switch e.Status {
	case domain.EntrySent:
		return nil, ErrAlreadySent
	case domain.EntryFailed:
		return nil, ErrEntryFailed
	}

	entries, err := s.entries.ListForThread(ctx, e.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	if prior := nearestUnsentBefore(entries, e.StepIndex); prior != nil && !newTime.After(prior.ScheduledAt) {
		return nil, fmt.Errorf("%w: step %d is scheduled at %s", ErrOrdering,
			prior.StepIndex, prior.ScheduledAt.Format(time.RFC3339))
	}

	oldTime := e.ScheduledAt
	if err := s.entries.UpdateScheduledAt(ctx, e.ID, newTime); err != nil {
		return nil, err
	}
	e.ScheduledAt = newTime.UTC()

	shifted, err := s.RecomputeAfter(ctx, e, e.ScheduledAt)
	if err != nil {
		return nil, fmt.Errorf("cascade: %w", err)
	}

	audit := &domain.RescheduleAudit{
		ID:        uuid.New().String(),
		EntryID:   e.ID,
		OldTime:   oldTime,
		NewTime:   e.ScheduledAt,
		Shifted:   shifted,
		Actor:     actor,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.entries.RecordReschedule(ctx, audit); err != nil {
		logger.Warn("reschedule audit failed", "entry_id", e.ID, "error", err)
	}

	logger.Info("entry rescheduled", "entry_id", e.ID, "thread_id", e.ThreadID,
		"old", oldTime.Format(time.RFC3339), "new", e.ScheduledAt.Format(time.RFC3339), "shifted", shifted)
	return &RescheduleResult{Entry: e, Shifted: shifted}, nil
}

// RecomputeAfter re-derives the scheduled time of every unsent entry after
// anchorEntry, starting from anchor (the anchor entry's new scheduled or
// actual send time). It returns how many entries moved.
func (s *Service) RecomputeAfter(ctx context.Context, anchorEntry *domain.ScheduleEntry, anchor time.Time) (int, error) {
	thread, err := s.threads.Get(ctx, anchorEntry.ThreadID)
	if err != nil {
		return 0, err
	}
	sched, err := s.ScheduleFor(ctx, thread)
	if err != nil {
		return 0, err
	}
	entries, err := s.entries.ListForThread(ctx, anchorEntry.ThreadID)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}

	prevTemplate, err := s.templates.Get(ctx, anchorEntry.TemplateID)
	if err != nil {
		return 0, fmt.Errorf("load template %s: %w", anchorEntry.TemplateID, err)
	}
	prevAt := anchor
	moved := 0
	for i := range entries {
		e := &entries[i]
		if e.StepIndex <= anchorEntry.StepIndex {
			continue
		}
		if e.Status == domain.EntrySent {
			// Later entries cannot be sent before earlier ones; nothing
			// past this point is ours to move.
			break
		}

		t, err := s.templates.Get(ctx, e.TemplateID)
		if err != nil {
			return moved, fmt.Errorf("load template %s: %w", e.TemplateID, err)
		}
		if e.Status == domain.EntryFailed {
			prevTemplate = t
			continue
		}

		at, err := sendwindow.FollowUpTime(sched, prevAt, prevTemplate.Delay())
		if err != nil {
			return moved, err
		}
		if !at.Equal(e.ScheduledAt) {
			if err := s.entries.UpdateScheduledAt(ctx, e.ID, at); err != nil {
				return moved, err
			}
			moved++
		}
		prevAt, prevTemplate = at, t
	}
	return moved, nil
}

// HaltPending stops every unsent step of a thread, recording reason.
func (s *Service) HaltPending(ctx context.Context, threadID, reason string) (int, error) {
	n, err := s.entries.HaltPending(ctx, threadID, reason)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("pending entries halted", "thread_id", threadID, "count", n, "reason", reason)
	}
	return n, nil
}

// Cleanup hard-deletes a thread's schedule, allowed only when nothing in it
// was ever sent.
func (s *Service) Cleanup(ctx context.Context, threadID string) (int, error) {
	return s.entries.DeleteUnsent(ctx, threadID)
}

// ScheduleFor returns the sending schedule of the thread's mailbox, creating
// the default one on first use.
func (s *Service) ScheduleFor(ctx context.Context, thread *domain.Thread) (*domain.SendingSchedule, error) {
	sched, err := s.schedules.ForMailbox(ctx, thread.MailboxID)
	if err == nil {
		return sched, nil
	}
	if !errors.Is(err, ErrNoSchedule) {
		return nil, fmt.Errorf("load sending schedule: %w", err)
	}

	created, err := s.schedules.Create(ctx, &domain.SendingSchedule{
		ID:        uuid.New().String(),
		SDRID:     thread.SDRID,
		MailboxID: thread.MailboxID,
		Weekdays:  append([]time.Weekday(nil), s.window.Weekdays...),
		StartHour: s.window.StartHour,
		EndHour:   s.window.EndHour,
		Timezone:  s.window.Timezone,
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("create default sending schedule: %w", err)
	}
	logger.Info("default sending schedule created", "mailbox_id", thread.MailboxID, "timezone", created.Timezone)
	return created, nil
}

// initialTime spaces the thread's first send after the mailbox's latest
// queued initial send using the SLA cadence. Other threads' follow-ups do
// not count. A mailbox with no initial send queued ahead starts tomorrow.
func (s *Service) initialTime(ctx context.Context, thread *domain.Thread, sched *domain.SendingSchedule) (time.Time, error) {
	now := s.clock()
	after, hasPrior := now, false

	latest, err := s.entries.LatestQueuedInitial(ctx, thread.MailboxID)
	switch {
	case err == nil:
		if latest.ScheduledAt.After(now) {
			after, hasPrior = latest.ScheduledAt, true
		}
	case errors.Is(err, ErrNotFound):
	default:
		return time.Time{}, fmt.Errorf("latest queued initial: %w", err)
	}

	volume, err := s.volumes.VolumeFor(ctx, thread.SDRID, now)
	if err != nil {
		logger.Warn("volume lookup failed, using default cadence", "sdr_id", thread.SDRID, "error", err)
		volume = 0
	}

	at, err := sendwindow.NextSendTime(sched, volume, after, hasPrior)
	if err != nil {
		return time.Time{}, err
	}
	jittered, err := sendwindow.Clamp(sched, s.jitter(at))
	if err != nil || !jittered.After(now) {
		return at, nil
	}
	return jittered, nil
}

func (s *Service) followUpAfter(ctx context.Context, sched *domain.SendingSchedule, prev *domain.ScheduleEntry) (time.Time, error) {
	t, err := s.templates.Get(ctx, prev.TemplateID)
	if err != nil {
		return time.Time{}, fmt.Errorf("load template %s: %w", prev.TemplateID, err)
	}
	anchor := prev.ScheduledAt
	if prev.SentAt != nil {
		anchor = *prev.SentAt
	}
	return sendwindow.FollowUpTime(sched, anchor, t.Delay())
}

func (s *Service) insert(ctx context.Context, thread *domain.Thread, in CreateInput, index int, at time.Time) (*domain.ScheduleEntry, error) {
	now := s.clock().UTC()
	e := &domain.ScheduleEntry{
		ID:               uuid.New().String(),
		SDRID:            thread.SDRID,
		MailboxID:        thread.MailboxID,
		ThreadID:         thread.ID,
		StepKind:         in.StepKind,
		StepIndex:        index,
		TemplateID:       in.TemplateID,
		SubjectContentID: in.SubjectContentID,
		BodyContentID:    in.BodyContentID,
		Status:           domain.EntryNeedsGeneration,
		ScheduledAt:      at.UTC(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if e.HasContent() {
		e.Status = domain.EntryScheduled
	}

	stored, created, err := s.entries.CreateOrGet(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}
	if created {
		logger.Info("schedule entry created", "entry_id", stored.ID, "thread_id", thread.ID,
			"step", stored.StepIndex, "kind", stored.StepKind, "at", stored.ScheduledAt.Format(time.RFC3339))
	}
	return stored, nil
}

func nearestUnsentBefore(entries []domain.ScheduleEntry, index int) *domain.ScheduleEntry {
	var prior *domain.ScheduleEntry
	for i := range entries {
		e := &entries[i]
		if e.StepIndex >= index {
			break
		}
		if e.Status == domain.EntryNeedsGeneration || e.Status == domain.EntryScheduled {
			prior = e
		}
	}
	return prior
}
