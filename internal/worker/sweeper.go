package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/distlock"
	"github.com/ignite/outreach-sequencer/internal/queue"
)

// =============================================================================
// SWEEPER: periodic scans that feed the task queue
// =============================================================================
// Entries and webhook records carry their own status and attempt counters in
// Postgres, so a lost task is never lost work: every interval the sweeper
// re-reads what is due and enqueues it again.
//
//   - generation: NEEDS_GENERATION entries due within the lead window
//   - send:       the earliest unsent entry per thread, when SCHEDULED and due
//   - webhooks:   PENDING/PROCESSING records untouched for the stale age
//   - escalation: entries that used up their attempts become FAILED + alert
//
// Each sweep runs under its own distributed lock so that several worker
// processes never scan the same set concurrently.

const (
	DefaultGenerationInterval = time.Minute
	DefaultSendInterval       = 30 * time.Second
	DefaultWebhookInterval    = 5 * time.Minute
	DefaultEscalationInterval = 10 * time.Minute

	// DefaultLeadTime is how far ahead of its send time an entry is generated.
	DefaultLeadTime = 2 * time.Hour

	// DefaultStaleAge is how long a webhook record may sit unprocessed.
	DefaultStaleAge = time.Hour

	DefaultMaxAttempts = 3
	DefaultBatchSize   = 200

	// dedupeWindow suppresses re-enqueueing an entry that is still queued.
	dedupeWindow = 10 * time.Minute
)

// EntrySource is the slice of the entry repository the sweeps read.
type EntrySource interface {
	ListDueForGeneration(ctx context.Context, horizon time.Time, maxAttempts, limit int) ([]domain.ScheduleEntry, error)
	ListDueForSend(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.ScheduleEntry, error)
	ListExhausted(ctx context.Context, generationMax, sendMax, limit int) ([]domain.ScheduleEntry, error)
	MarkFailed(ctx context.Context, id, reason string) error
}

// TaskEnqueuer adds deduplicated tasks.
type TaskEnqueuer interface {
	EnqueueOnce(ctx context.Context, kind, key string, ttl time.Duration, payload interface{}) (queue.TaskHandle, bool, error)
}

// StaleRecoverer requeues webhook records that were never finished.
type StaleRecoverer interface {
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Alerter reports entries that need an operator.
type Alerter interface {
	Alert(ctx context.Context, component, entityID, reason string)
}

// LockFactory returns a fresh lock for key.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// SweepConfig tunes the sweeps. Zero values take the defaults.
type SweepConfig struct {
	GenerationInterval    time.Duration
	SendInterval          time.Duration
	WebhookInterval       time.Duration
	EscalationInterval    time.Duration
	LeadTime              time.Duration
	StaleAge              time.Duration
	GenerationMaxAttempts int
	SendMaxAttempts       int
	BatchSize             int
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.GenerationInterval <= 0 {
		c.GenerationInterval = DefaultGenerationInterval
	}
	if c.SendInterval <= 0 {
		c.SendInterval = DefaultSendInterval
	}
	if c.WebhookInterval <= 0 {
		c.WebhookInterval = DefaultWebhookInterval
	}
	if c.EscalationInterval <= 0 {
		c.EscalationInterval = DefaultEscalationInterval
	}
	if c.LeadTime <= 0 {
		c.LeadTime = DefaultLeadTime
	}
	if c.StaleAge <= 0 {
		c.StaleAge = DefaultStaleAge
	}
	if c.GenerationMaxAttempts <= 0 {
		c.GenerationMaxAttempts = DefaultMaxAttempts
	}
	if c.SendMaxAttempts <= 0 {
		c.SendMaxAttempts = DefaultMaxAttempts
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// Sweeper runs the periodic scans.
type Sweeper struct {
	entries  EntrySource
	tasks    TaskEnqueuer
	webhooks StaleRecoverer
	newLock  LockFactory
	alerter  Alerter
	cfg      SweepConfig
	clock    func() time.Time
}

// NewSweeper creates a sweeper. newLock may be nil in single-process setups.
func NewSweeper(entries EntrySource, tasks TaskEnqueuer, webhooks StaleRecoverer, newLock LockFactory, cfg SweepConfig) *Sweeper {
	return &Sweeper{
		entries:  entries,
		tasks:    tasks,
		webhooks: webhooks,
		newLock:  newLock,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// SetAlerter sets where escalations are reported.
func (s *Sweeper) SetAlerter(a Alerter) { s.alerter = a }

// SetClock overrides the time source.
func (s *Sweeper) SetClock(clock func() time.Time) { s.clock = clock }

// Start runs every sweep on its own ticker. It blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	log.Printf("[Sweeper] Starting (generation=%s, send=%s, webhooks=%s, escalation=%s, lead=%s)",
		s.cfg.GenerationInterval, s.cfg.SendInterval, s.cfg.WebhookInterval, s.cfg.EscalationInterval, s.cfg.LeadTime)

	sweeps := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) (int, error)
	}{
		{"generation", s.cfg.GenerationInterval, s.SweepGeneration},
		{"send", s.cfg.SendInterval, s.SweepSend},
		{"webhooks", s.cfg.WebhookInterval, s.RecoverWebhooks},
		{"escalation", s.cfg.EscalationInterval, s.Escalate},
	}

	var wg sync.WaitGroup
	for _, sw := range sweeps {
		wg.Add(1)
		go func(name string, interval time.Duration, run func(context.Context) (int, error)) {
			defer wg.Done()
			s.loop(ctx, name, interval, run)
		}(sw.name, sw.interval, sw.run)
	}
	wg.Wait()
	log.Println("[Sweeper] Stopping")
}

func (s *Sweeper) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, name, interval, run)
		}
	}
}

// RunOnce runs one sweep under its lock. The lock outlives the interval
// slightly so a slow sweep is not overlapped by the next tick elsewhere.
func (s *Sweeper) RunOnce(ctx context.Context, name string, interval time.Duration, run func(context.Context) (int, error)) {
	sweepCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	var n int
	body := func(ctx context.Context) error {
		var err error
		n, err = run(ctx)
		return err
	}
	ran := true
	var err error
	if s.newLock != nil {
		ran, err = distlock.Do(sweepCtx, s.newLock("sweep:"+name, interval+30*time.Second), body)
	} else {
		err = body(sweepCtx)
	}
	switch {
	case err != nil:
		log.Printf("[Sweeper] %s error: %v", name, err)
	case !ran:
		// another process holds the sweep
	case n > 0:
		log.Printf("[Sweeper] %s: %d item(s)", name, n)
	}
}

// SweepGeneration enqueues generation for entries due within the lead window.
func (s *Sweeper) SweepGeneration(ctx context.Context) (int, error) {
	horizon := s.clock().Add(s.cfg.LeadTime)
	due, err := s.entries.ListDueForGeneration(ctx, horizon, s.cfg.GenerationMaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list entries needing generation: %w", err)
	}
	return s.enqueueEntries(ctx, queue.KindGenerate, due)
}

// SweepSend enqueues the earliest due SCHEDULED entry of each thread.
func (s *Sweeper) SweepSend(ctx context.Context) (int, error) {
	due, err := s.entries.ListDueForSend(ctx, s.clock(), s.cfg.SendMaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due entries: %w", err)
	}
	return s.enqueueEntries(ctx, queue.KindSend, due)
}

func (s *Sweeper) enqueueEntries(ctx context.Context, kind string, entries []domain.ScheduleEntry) (int, error) {
	added := 0
	for _, e := range entries {
		_, ok, err := s.tasks.EnqueueOnce(ctx, kind, e.ID, dedupeWindow, queue.EntryPayload{EntryID: e.ID})
		if err != nil {
			return added, fmt.Errorf("enqueue %s %s: %w", kind, e.ID, err)
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// RecoverWebhooks requeues webhook records stuck before completion.
func (s *Sweeper) RecoverWebhooks(ctx context.Context) (int, error) {
	return s.webhooks.RecoverStale(ctx, s.cfg.StaleAge)
}

// Escalate fails entries whose attempts are exhausted but were never
// marked, e.g. because the process died between the attempt and the mark.
func (s *Sweeper) Escalate(ctx context.Context) (int, error) {
	stuck, err := s.entries.ListExhausted(ctx, s.cfg.GenerationMaxAttempts, s.cfg.SendMaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list exhausted entries: %w", err)
	}
	failed := 0
	for _, e := range stuck {
		reason := fmt.Sprintf("attempts exhausted in %s", e.Status)
		if e.LastError != "" {
			reason += ": " + e.LastError
		}
		if err := s.entries.MarkFailed(ctx, e.ID, reason); err != nil {
			log.Printf("[Sweeper] escalation: mark %s failed: %v", e.ID, err)
			continue
		}
		failed++
		if s.alerter != nil {
			s.alerter.Alert(ctx, "sweeper", e.ID, reason)
		}
	}
	return failed, nil
}
