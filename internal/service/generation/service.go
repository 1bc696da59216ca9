package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

// DefaultMaxAttempts bounds generation retries before an entry is FAILED.
const DefaultMaxAttempts = 3

// GenerationPolicy selects how a thread's steps are created and filled.
//
// UpFront creates the whole forward chain when the thread starts; otherwise
// only the initial entry is created and each follow-up is added after the
// previous step is sent. GenerateImmediately fills the initial entry's
// content during StartThread instead of waiting for the generation sweep.
type GenerationPolicy struct {
	UpFront             bool `json:"up_front" yaml:"up_front"`
	GenerateImmediately bool `json:"generate_immediately" yaml:"generate_immediately"`
}

// Service implements the Generation Trigger.
type Service struct {
	entries   EntryRepository
	contents  ContentRepository
	threads   ThreadReader
	templates TemplateReader
	generator Generator
	scheduler Scheduler

	alerter     Alerter
	policy      GenerationPolicy
	maxAttempts int
	clock       func() time.Time
}

// NewService creates a generation service.
func NewService(entries EntryRepository, contents ContentRepository, threads ThreadReader,
	templates TemplateReader, generator Generator, scheduler Scheduler) *Service {
	return &Service{
		entries:     entries,
		contents:    contents,
		threads:     threads,
		templates:   templates,
		generator:   generator,
		scheduler:   scheduler,
		maxAttempts: DefaultMaxAttempts,
		clock:       time.Now,
	}
}

// SetPolicy sets the generation policy used by StartThread.
func (s *Service) SetPolicy(p GenerationPolicy) { s.policy = p }

// Policy returns the active generation policy.
func (s *Service) Policy() GenerationPolicy { return s.policy }

// SetAlerter sets the operator alert sink.
func (s *Service) SetAlerter(a Alerter) { s.alerter = a }

// SetMaxAttempts overrides DefaultMaxAttempts.
func (s *Service) SetMaxAttempts(n int) {
	if n > 0 {
		s.maxAttempts = n
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// EnsureGenerated fills in the entry's subject and body. Entries that
// already carry content, or were sent, are returned unchanged.
//
// A generator failure is recorded on the entry, which stays
// NEEDS_GENERATION for the next sweep; once the attempts reach the limit
// the entry is FAILED and reported.
func (s *Service) EnsureGenerated(ctx context.Context, entryID string) (*domain.ScheduleEntry, error) {
	e, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if e.HasContent() || e.IsSent() {
		return e, nil
	}
	if e.Status == domain.EntryFailed {
		return nil, schedule.ErrEntryFailed
	}

	thread, err := s.threads.Get(ctx, e.ThreadID)
	if err != nil {
		return nil, err
	}
	if !thread.Status.IsOutbound() {
		reason := "halted: thread is " + string(thread.Status)
		if _, err := s.scheduler.HaltPending(ctx, thread.ID, reason); err != nil {
			return nil, fmt.Errorf("halt pending: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotEligible, thread.Status)
	}

	tmpl, err := s.templates.Get(ctx, e.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template %s: %w", e.TemplateID, err)
	}

	req := Request{Thread: thread, Template: tmpl, StepIndex: e.StepIndex}
	if thread.ProspectID != "" {
		p, err := s.threads.Prospect(ctx, thread.ProspectID)
		if err != nil {
			return nil, fmt.Errorf("load prospect: %w", err)
		}
		req.Prospect = p
	}
	if e.StepIndex > 0 {
		prev, err := s.previousSubject(ctx, e, thread)
		if err != nil {
			return nil, s.fail(ctx, e, err)
		}
		req.PreviousSubject = prev
	}

	out, err := s.generator.Generate(ctx, req)
	if err == nil && strings.TrimSpace(out.Body) == "" {
		err = errors.New("empty body")
	}
	if err == nil && e.StepIndex == 0 && strings.TrimSpace(out.Subject) == "" {
		err = errors.New("empty subject")
	}
	if err != nil {
		return nil, s.fail(ctx, e, err)
	}

	subject := strings.TrimSpace(out.Subject)
	if e.StepIndex > 0 {
		subject = ReplySubject(req.PreviousSubject)
	}
	subjectID, err := s.storeContent(ctx, thread.ID, domain.ContentSubject, subject)
	if err != nil {
		return nil, err
	}
	bodyID, err := s.storeContent(ctx, thread.ID, domain.ContentBody, out.Body)
	if err != nil {
		return nil, err
	}

	if err := s.entries.AttachContent(ctx, e.ID, subjectID, bodyID); err != nil {
		if errors.Is(err, schedule.ErrConflict) {
			// Another worker filled it first; its content wins.
			return s.entries.Get(ctx, e.ID)
		}
		return nil, fmt.Errorf("attach content: %w", err)
	}
	e.SubjectContentID, e.BodyContentID = &subjectID, &bodyID
	e.Status = domain.EntryScheduled

	logger.Info("content generated", "entry_id", e.ID, "thread_id", thread.ID, "step", e.StepIndex)
	return e, nil
}

// StartResult lists the entries created (or found) for a new thread.
type StartResult struct {
	EntryIDs  []string `json:"entry_ids"`
	Generated bool     `json:"generated"`
}

// StartThread creates the thread's initial entry, or its whole chain when
// the policy is UpFront, and generates the initial content right away when
// the policy asks for it. A generation failure there does not undo the
// entries; the sweep picks the entry up later.
func (s *Service) StartThread(ctx context.Context, threadID, templateID string) (*StartResult, error) {
	var ids []string
	if s.policy.UpFront {
		var err error
		ids, err = s.scheduler.PopulateSequence(ctx, threadID, templateID, nil)
		if err != nil {
			return nil, err
		}
	} else {
		id, err := s.scheduler.CreateOrGet(ctx, schedule.CreateInput{
			ThreadID:   threadID,
			StepKind:   domain.StepInitial,
			TemplateID: templateID,
		})
		if err != nil {
			return nil, err
		}
		ids = []string{id}
	}

	res := &StartResult{EntryIDs: ids}
	if s.policy.GenerateImmediately && len(ids) > 0 {
		if _, err := s.EnsureGenerated(ctx, ids[0]); err != nil {
			logger.Warn("immediate generation failed, deferring to sweep", "entry_id", ids[0], "error", err)
		} else {
			res.Generated = true
		}
	}
	return res, nil
}

// ReplySubject derives a follow-up subject from the previous one. Any
// existing "Re:" prefixes collapse into one.
func ReplySubject(prev string) string {
	s := strings.TrimSpace(prev)
	for len(s) >= 3 && strings.EqualFold(s[:3], "re:") {
		s = strings.TrimSpace(s[3:])
	}
	return "Re: " + s
}

// previousSubject returns the subject of the closest earlier step that has
// content, falling back to the last subject the transport reported.
func (s *Service) previousSubject(ctx context.Context, e *domain.ScheduleEntry, thread *domain.Thread) (string, error) {
	entries, err := s.entries.ListForThread(ctx, e.ThreadID)
	if err != nil {
		return "", fmt.Errorf("list entries: %w", err)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		prev := entries[i]
		if prev.StepIndex >= e.StepIndex || prev.SubjectContentID == nil {
			continue
		}
		c, err := s.contents.Get(ctx, *prev.SubjectContentID)
		if err != nil {
			return "", fmt.Errorf("load subject %s: %w", *prev.SubjectContentID, err)
		}
		return c.Text, nil
	}
	if thread.LastSubject != "" {
		return thread.LastSubject, nil
	}
	return "", errors.New("previous subject not generated yet")
}

func (s *Service) storeContent(ctx context.Context, threadID string, kind domain.ContentKind, text string) (string, error) {
	c := &domain.GeneratedContent{
		ID:        uuid.New().String(),
		ThreadID:  threadID,
		Kind:      kind,
		Text:      text,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.contents.Create(ctx, c); err != nil {
		return "", fmt.Errorf("store %s: %w", kind, err)
	}
	return c.ID, nil
}

// fail records a failed attempt and escalates once the limit is reached.
// It always returns an error wrapping ErrGenerationFailure.
func (s *Service) fail(ctx context.Context, e *domain.ScheduleEntry, cause error) error {
	reason := cause.Error()
	attempts, err := s.entries.RecordAttempt(ctx, e.ID, reason)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if attempts >= s.maxAttempts {
		final := fmt.Sprintf("generation failed after %d attempts: %s", attempts, reason)
		if err := s.entries.MarkFailed(ctx, e.ID, final); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		logger.Error("entry generation exhausted", "entry_id", e.ID, "thread_id", e.ThreadID, "attempts", attempts)
		if s.alerter != nil {
			s.alerter.Alert(ctx, "generation", e.ID, final)
		}
	} else {
		logger.Warn("entry generation failed", "entry_id", e.ID, "attempt", attempts, "error", reason)
	}
	return fmt.Errorf("%w: %s", ErrGenerationFailure, reason)
}
