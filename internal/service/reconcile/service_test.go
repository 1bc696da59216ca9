package reconcile_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
)

var now = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

// memRecords is an in-memory processing-record store.
type memRecords struct {
	mu      sync.Mutex
	records map[string]*domain.WebhookRecord
}

func (m *memRecords) CreateOrGet(_ context.Context, r *domain.WebhookRecord) (*domain.WebhookRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.records {
		if x.Kind == r.Kind && x.PayloadHash == r.PayloadHash {
			cp := *x
			return &cp, false, nil
		}
	}
	cp := *r
	m.records[r.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *memRecords) Get(_ context.Context, id string) (*domain.WebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, reconcile.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.records[id]
	if r.Status != domain.ProcessingPending && r.Status != domain.ProcessingFailed {
		return false, nil
	}
	r.Status = domain.ProcessingInProgress
	r.Attempts++
	return true, nil
}

func (m *memRecords) Complete(_ context.Context, id, outcome string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Status = domain.ProcessingSucceeded
	m.records[id].Outcome = outcome
	m.records[id].LastError = ""
	return nil
}

func (m *memRecords) Fail(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Status = domain.ProcessingFailed
	m.records[id].LastError = reason
	return nil
}

func (m *memRecords) Requeue(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[id].Status = domain.ProcessingPending
	return nil
}

func (m *memRecords) ListStale(_ context.Context, cutoff time.Time, limit int) ([]domain.WebhookRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookRecord
	for _, r := range m.records {
		if (r.Status == domain.ProcessingPending || r.Status == domain.ProcessingInProgress) && r.UpdatedAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRecords) ListFailed(_ context.Context, kind domain.WebhookKind, limit, offset int) ([]domain.WebhookRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WebhookRecord
	for _, r := range m.records {
		if r.Status == domain.ProcessingFailed && (kind == "" || r.Kind == kind) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memThreads struct {
	mu      sync.Mutex
	threads map[string]*domain.Thread
}

func (m *memThreads) FindByRecipient(_ context.Context, email, campaign string) (*domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.threads {
		if t.RecipientEmail == email && t.ExternalCampaignID == campaign {
			cp := *t
			return &cp, nil
		}
	}
	return nil, reconcile.ErrNoMatchingThread
}

func (m *memThreads) Transition(_ context.Context, id string, from []domain.ThreadStatus, to domain.ThreadStatus, touch reconcile.Touch) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.threads[id]
	for _, f := range from {
		if t.Status == f {
			t.Status = to
			t.LastEventRecordID = touch.RecordID
			if touch.ReplyBody != "" {
				t.LastReplyBody = touch.ReplyBody
			}
			return true, nil
		}
	}
	return false, nil
}

type memEntries []domain.ScheduleEntry

func (m memEntries) ListForThread(context.Context, string) ([]domain.ScheduleEntry, error) {
	return m, nil
}

type memAnalytics struct {
	opened  map[string]int
	replied map[string]int
	applied map[string]bool

	replyErr error
}

func (m *memAnalytics) IncrementOpened(_ context.Context, recordID string, ids []string) error {
	if m.applied[recordID] {
		return nil
	}
	m.applied[recordID] = true
	for _, id := range ids {
		m.opened[id]++
	}
	return nil
}

func (m *memAnalytics) IncrementReplied(_ context.Context, recordID string, ids []string) error {
	if err := m.replyErr; err != nil {
		m.replyErr = nil
		return err
	}
	if m.applied[recordID] {
		return nil
	}
	m.applied[recordID] = true
	for _, id := range ids {
		m.replied[id]++
	}
	return nil
}

type fakeClassifier struct {
	status domain.ThreadStatus
	err    error
}

func (c fakeClassifier) Classify(context.Context, *domain.Thread, string) (domain.ThreadStatus, error) {
	return c.status, c.err
}

type halter struct {
	calls []string
	err   error
}

func (h *halter) HaltPending(_ context.Context, threadID, reason string) (int, error) {
	h.calls = append(h.calls, reason)
	if err := h.err; err != nil {
		h.err = nil
		return 0, err
	}
	return 1, nil
}

type jsonDecoder struct{}

func (jsonDecoder) Decode(kind domain.WebhookKind, payload []byte) (*domain.DeliveryEvent, error) {
	var ev domain.DeliveryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	ev.Kind = kind
	return &ev, nil
}

type fixture struct {
	svc        *reconcile.Service
	records    *memRecords
	threads    *memThreads
	analytics  *memAnalytics
	halter     *halter
	classifier *fakeClassifier
}

func newFixture(t *testing.T, status domain.ThreadStatus) *fixture {
	t.Helper()
	records := &memRecords{records: map[string]*domain.WebhookRecord{}}
	threads := &memThreads{threads: map[string]*domain.Thread{
		"thread-1": {ID: "thread-1", RecipientEmail: "ada@acme.io", ExternalCampaignID: "cmp-1", Status: status, SentCount: 2},
	}}
	entries := memEntries{
		{ID: "e0", StepIndex: 0, TemplateID: "init", Status: domain.EntrySent},
		{ID: "e1", StepIndex: 1, TemplateID: "bump-1", Status: domain.EntrySent},
		{ID: "e2", StepIndex: 2, TemplateID: "bump-2", Status: domain.EntryScheduled},
	}
	analytics := &memAnalytics{opened: map[string]int{}, replied: map[string]int{}, applied: map[string]bool{}}
	h := &halter{}
	cl := &fakeClassifier{status: domain.ThreadScheduling}

	svc := reconcile.NewService(records, threads, entries, analytics, cl, h, jsonDecoder{})
	svc.SetClock(func() time.Time { return now })
	return &fixture{svc: svc, records: records, threads: threads, analytics: analytics, halter: h, classifier: cl}
}

func payload(email, body string) []byte {
	return []byte(fmt.Sprintf(`{"recipient_email":%q,"external_campaign_id":"cmp-1","body":%q}`, email, body))
}

func (f *fixture) deliver(t *testing.T, kind domain.WebhookKind, p []byte) *domain.WebhookRecord {
	t.Helper()
	ctx := context.Background()
	rec, needs, err := f.svc.Ingest(ctx, kind, p)
	require.NoError(t, err)
	if !needs {
		return rec
	}
	out, err := f.svc.Process(ctx, rec.ID)
	require.NoError(t, err)
	return out
}

func (f *fixture) status() domain.ThreadStatus {
	f.threads.mu.Lock()
	defer f.threads.mu.Unlock()
	return f.threads.threads["thread-1"].Status
}

func TestOpened_FromSentOutreach(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	rec := f.deliver(t, domain.WebhookOpened, payload("ada@acme.io", ""))

	assert.Equal(t, domain.ProcessingSucceeded, rec.Status)
	assert.Equal(t, domain.ThreadEmailOpened, f.status())
	assert.Equal(t, map[string]int{"init": 1, "bump-1": 1}, f.analytics.opened)
}

func TestOpened_OnActiveConvoIsNoOp(t *testing.T) {
	f := newFixture(t, domain.ThreadActiveConvo)
	rec := f.deliver(t, domain.WebhookOpened, payload("ada@acme.io", ""))

	assert.Equal(t, domain.ProcessingSucceeded, rec.Status)
	assert.Contains(t, rec.Outcome, "skipped")
	assert.Equal(t, domain.ThreadActiveConvo, f.status())
	assert.Empty(t, f.analytics.opened)
}

func TestSent_AdvancesNotSentOnly(t *testing.T) {
	f := newFixture(t, domain.ThreadNotSent)
	f.deliver(t, domain.WebhookSent, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ThreadSentOutreach, f.status())

	f2 := newFixture(t, domain.ThreadEmailOpened)
	f2.deliver(t, domain.WebhookSent, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ThreadEmailOpened, f2.status())
}

func TestReplied_ClassifiesHaltsAndCounts(t *testing.T) {
	f := newFixture(t, domain.ThreadBumped)
	rec := f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "Let's talk Tuesday"))

	assert.Equal(t, domain.ProcessingSucceeded, rec.Status)
	assert.Equal(t, domain.ThreadScheduling, f.status())
	assert.Equal(t, "Let's talk Tuesday", f.threads.threads["thread-1"].LastReplyBody)
	assert.Equal(t, []string{"halted: prospect replied"}, f.halter.calls)
	assert.Equal(t, map[string]int{"init": 1, "bump-1": 1}, f.analytics.replied)
}

func TestReplied_ReplayDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	p := payload("ada@acme.io", "Interested")
	ctx := context.Background()

	first := f.deliver(t, domain.WebhookReplied, p)
	require.Equal(t, domain.ProcessingSucceeded, first.Status)

	again, needs, err := f.svc.Ingest(ctx, domain.WebhookReplied, p)
	require.NoError(t, err)
	assert.False(t, needs)
	assert.Equal(t, first.ID, again.ID)

	// Forced reprocessing of the same record is also harmless.
	_, err = f.svc.Process(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.analytics.replied["init"])
	assert.Len(t, f.halter.calls, 1)
}

func TestReplied_BackfillFinishesAfterAnalyticsFailure(t *testing.T) {
	f := newFixture(t, domain.ThreadBumped)
	f.analytics.replyErr = errors.New("db blip")
	ctx := context.Background()

	rec := f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "Let's talk Tuesday"))
	require.Equal(t, domain.ProcessingFailed, rec.Status)
	assert.Contains(t, rec.LastError, "reply analytics")
	assert.Equal(t, domain.ThreadScheduling, f.status())
	assert.Empty(t, f.analytics.replied)

	// The classifier would now answer differently; the replay must keep the
	// status the first attempt committed.
	f.classifier.status = domain.ThreadNotInterested
	n, err := f.svc.Backfill(ctx, domain.WebhookReplied)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSucceeded, out.Status)
	assert.Equal(t, "applied: SCHEDULING", out.Outcome)
	assert.Equal(t, domain.ThreadScheduling, f.status())
	assert.Equal(t, map[string]int{"init": 1, "bump-1": 1}, f.analytics.replied)
	assert.Len(t, f.halter.calls, 2)
}

func TestReplied_BackfillFinishesAfterHaltFailure(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	f.halter.err = errors.New("db blip")
	ctx := context.Background()

	rec := f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "Interested"))
	require.Equal(t, domain.ProcessingFailed, rec.Status)
	assert.Empty(t, f.analytics.replied)

	_, err := f.svc.Backfill(ctx, "")
	require.NoError(t, err)

	out, err := f.svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSucceeded, out.Status)
	assert.Equal(t, []string{"halted: prospect replied", "halted: prospect replied"}, f.halter.calls)
	assert.Equal(t, 1, f.analytics.replied["init"])
}

func TestReplied_OtherRecordOnClosedThreadSkipped(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "Interested"))

	second := f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "Also, one more thing"))
	assert.Equal(t, domain.ProcessingSucceeded, second.Status)
	assert.Equal(t, "skipped: thread is SCHEDULING", second.Outcome)
	assert.Equal(t, 1, f.analytics.replied["init"])
	assert.Len(t, f.halter.calls, 1)
}

func TestReplied_ClassifierErrorFallsBack(t *testing.T) {
	f := newFixture(t, domain.ThreadEmailOpened)
	f.classifier.err = errors.New("model unavailable")
	f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "?"))
	assert.Equal(t, domain.ThreadActiveConvo, f.status())
}

func TestReplied_ClassifierOutboundStatusCoerced(t *testing.T) {
	f := newFixture(t, domain.ThreadEmailOpened)
	f.classifier.status = domain.ThreadBumped
	f.deliver(t, domain.WebhookReplied, payload("ada@acme.io", "?"))
	assert.Equal(t, domain.ThreadActiveConvo, f.status())
}

func TestBounced(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	f.deliver(t, domain.WebhookBounced, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ThreadBounced, f.status())
	assert.Equal(t, []string{"halted: bounced"}, f.halter.calls)

	f2 := newFixture(t, domain.ThreadDemoSet)
	f2.deliver(t, domain.WebhookBounced, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ThreadDemoSet, f2.status())
}

func TestNoMatchingThread_FailsRecord(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	rec := f.deliver(t, domain.WebhookOpened, payload("nobody@acme.io", ""))

	assert.Equal(t, domain.ProcessingFailed, rec.Status)
	assert.Contains(t, rec.LastError, reconcile.ErrNoMatchingThread.Error())
}

func TestInvalidPayload_FailsRecord(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	rec := f.deliver(t, domain.WebhookOpened, []byte(`{not json`))
	assert.Equal(t, domain.ProcessingFailed, rec.Status)
}

func TestIngest_UnknownKind(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	_, _, err := f.svc.Ingest(context.Background(), "email.clicked", []byte(`{}`))
	assert.True(t, errors.Is(err, reconcile.ErrUnknownKind))
}

func TestRecoverStale(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	ctx := context.Background()

	rec, _, err := f.svc.Ingest(ctx, domain.WebhookOpened, payload("ada@acme.io", ""))
	require.NoError(t, err)
	// Simulate a worker that crashed mid-handler two hours ago.
	f.records.records[rec.ID].Status = domain.ProcessingInProgress
	f.records.records[rec.ID].UpdatedAt = now.Add(-2 * time.Hour)

	n, err := f.svc.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.ProcessingSucceeded, f.records.records[rec.ID].Status)
	assert.Equal(t, domain.ThreadEmailOpened, f.status())
}

type recordingEnqueuer struct{ ids []string }

func (e *recordingEnqueuer) EnqueueWebhook(_ context.Context, id string) error {
	e.ids = append(e.ids, id)
	return nil
}

func TestBackfill_ReplaysFailedByKind(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	ctx := context.Background()

	failedOpen := f.deliver(t, domain.WebhookOpened, payload("late@acme.io", ""))
	require.Equal(t, domain.ProcessingFailed, failedOpen.Status)
	failedBounce := f.deliver(t, domain.WebhookBounced, payload("late@acme.io", ""))
	require.Equal(t, domain.ProcessingFailed, failedBounce.Status)

	// The thread shows up after the fact.
	f.threads.threads["thread-2"] = &domain.Thread{ID: "thread-2", RecipientEmail: "late@acme.io",
		ExternalCampaignID: "cmp-1", Status: domain.ThreadSentOutreach}

	enq := &recordingEnqueuer{}
	f.svc.SetEnqueuer(enq)
	n, err := f.svc.Backfill(ctx, domain.WebhookOpened)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{failedOpen.ID}, enq.ids)
	assert.Equal(t, domain.ProcessingPending, f.records.records[failedOpen.ID].Status)
	assert.Equal(t, domain.ProcessingFailed, f.records.records[failedBounce.ID].Status)

	rec, err := f.svc.Process(ctx, failedOpen.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProcessingSucceeded, rec.Status)
	assert.Equal(t, 2, rec.Attempts)
}

type recordingSuppressor struct {
	emails []string
	err    error
}

func (s *recordingSuppressor) Suppress(_ context.Context, email string, reason domain.SuppressionReason, source, threadID string) error {
	if s.err != nil {
		return s.err
	}
	s.emails = append(s.emails, email+"|"+string(reason)+"|"+threadID)
	return nil
}

func TestBounced_SuppressesRecipient(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	sp := &recordingSuppressor{}
	f.svc.SetSuppressor(sp)

	rec := f.deliver(t, domain.WebhookBounced, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ProcessingSucceeded, rec.Status)
	assert.Equal(t, []string{"ada@acme.io|BOUNCE|thread-1"}, sp.emails)

	// A thread already past outbound still gets its address suppressed.
	f2 := newFixture(t, domain.ThreadDemoSet)
	sp2 := &recordingSuppressor{}
	f2.svc.SetSuppressor(sp2)
	f2.deliver(t, domain.WebhookBounced, payload("ada@acme.io", ""))
	assert.Len(t, sp2.emails, 1)
}

func TestBounced_SuppressFailureFailsRecord(t *testing.T) {
	f := newFixture(t, domain.ThreadSentOutreach)
	f.svc.SetSuppressor(&recordingSuppressor{err: errors.New("db down")})

	rec := f.deliver(t, domain.WebhookBounced, payload("ada@acme.io", ""))
	assert.Equal(t, domain.ProcessingFailed, rec.Status)
	assert.Equal(t, domain.ThreadSentOutreach, f.status())
}
