package generation_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
	"github.com/ignite/outreach-sequencer/internal/service/schedule"
)

type memStore struct {
	mu       sync.Mutex
	entries  map[string]*domain.ScheduleEntry
	contents map[string]*domain.GeneratedContent
	threads  map[string]*domain.Thread
	halted   []string
}

func newMemStore() *memStore {
	return &memStore{
		entries:  map[string]*domain.ScheduleEntry{},
		contents: map[string]*domain.GeneratedContent{},
		threads:  map[string]*domain.Thread{},
	}
}

func (m *memStore) Get(_ context.Context, id string) (*domain.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) ListForThread(_ context.Context, threadID string) ([]domain.ScheduleEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduleEntry
	for _, e := range m.entries {
		if e.ThreadID == threadID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (m *memStore) AttachContent(_ context.Context, id, subjectID, bodyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	if e.Status != domain.EntryNeedsGeneration {
		return schedule.ErrConflict
	}
	e.SubjectContentID, e.BodyContentID = &subjectID, &bodyID
	e.Status = domain.EntryScheduled
	return nil
}

func (m *memStore) RecordAttempt(_ context.Context, id, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Attempts++
	e.LastError = reason
	return e.Attempts, nil
}

func (m *memStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Status = domain.EntryFailed
	e.LastError = reason
	return nil
}

type memContents struct{ *memStore }

func (m memContents) Create(_ context.Context, c *domain.GeneratedContent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.contents[c.ID] = &cp
	return nil
}

func (m memContents) Get(_ context.Context, id string) (*domain.GeneratedContent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[id]
	if !ok {
		return nil, generation.ErrContentNotFound
	}
	cp := *c
	return &cp, nil
}

type memThreads struct{ *memStore }

func (m memThreads) Get(_ context.Context, id string) (*domain.Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, schedule.ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (m memThreads) Prospect(_ context.Context, id string) (*domain.Prospect, error) {
	return &domain.Prospect{ID: id, FirstName: "Ada", Company: "Acme"}, nil
}

type memTemplates map[string]domain.SequenceTemplate

func (m memTemplates) Get(_ context.Context, id string) (*domain.SequenceTemplate, error) {
	t, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("template %s not found", id)
	}
	return &t, nil
}

// fakeScheduler records calls and creates bare entries in the store.
type fakeScheduler struct {
	store     *memStore
	populated bool
}

func (f *fakeScheduler) CreateOrGet(_ context.Context, in schedule.CreateInput) (string, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	id := in.ThreadID + "-0"
	if _, ok := f.store.entries[id]; !ok {
		f.store.entries[id] = &domain.ScheduleEntry{
			ID: id, ThreadID: in.ThreadID, StepKind: in.StepKind, TemplateID: in.TemplateID,
			Status: domain.EntryNeedsGeneration,
		}
	}
	return id, nil
}

func (f *fakeScheduler) PopulateSequence(ctx context.Context, threadID, templateID string, _ *schedule.ContentIDs) ([]string, error) {
	f.populated = true
	id, err := f.CreateOrGet(ctx, schedule.CreateInput{ThreadID: threadID, StepKind: domain.StepInitial, TemplateID: templateID})
	if err != nil {
		return nil, err
	}
	return []string{id, threadID + "-1"}, nil
}

func (f *fakeScheduler) HaltPending(_ context.Context, threadID, reason string) (int, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.halted = append(f.store.halted, threadID)
	n := 0
	for _, e := range f.store.entries {
		if e.ThreadID == threadID && e.Status == domain.EntryNeedsGeneration {
			e.Status = domain.EntryFailed
			e.LastError = reason
			n++
		}
	}
	return n, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	fail     error
	calls    int
	requests []generation.Request
}

func (g *fakeGenerator) Generate(_ context.Context, req generation.Request) (*generation.Content, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.requests = append(g.requests, req)
	if g.fail != nil {
		return nil, g.fail
	}
	return &generation.Content{Subject: "Quick question", Body: fmt.Sprintf("body for step %d", req.StepIndex)}, nil
}

type recordingAlerter struct{ alerts []string }

func (a *recordingAlerter) Alert(_ context.Context, component, entityID, _ string) {
	a.alerts = append(a.alerts, component+":"+entityID)
}

type fixture struct {
	svc   *generation.Service
	store *memStore
	gen   *fakeGenerator
	sched *fakeScheduler
	alert *recordingAlerter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	store.threads["thread-1"] = &domain.Thread{ID: "thread-1", ProspectID: "p-1", Status: domain.ThreadNotSent}
	templates := memTemplates{
		"init":   {ID: "init", Trigger: domain.TriggerInitial},
		"bump-1": {ID: "bump-1", Trigger: domain.TriggerBumped, BumpCount: 1},
	}
	gen := &fakeGenerator{}
	sched := &fakeScheduler{store: store}
	alert := &recordingAlerter{}

	svc := generation.NewService(store, memContents{store}, memThreads{store}, templates, gen, sched)
	svc.SetAlerter(alert)
	svc.SetClock(func() time.Time { return time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC) })
	return &fixture{svc: svc, store: store, gen: gen, sched: sched, alert: alert}
}

func (f *fixture) addEntry(id string, index int, tmpl string) {
	kind := domain.StepFollowUp
	if index == 0 {
		kind = domain.StepInitial
	}
	f.store.entries[id] = &domain.ScheduleEntry{
		ID: id, ThreadID: "thread-1", StepKind: kind, StepIndex: index,
		TemplateID: tmpl, Status: domain.EntryNeedsGeneration,
	}
}

func TestEnsureGenerated_Initial(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")

	e, err := f.svc.EnsureGenerated(context.Background(), "e0")
	require.NoError(t, err)
	assert.Equal(t, domain.EntryScheduled, e.Status)
	require.NotNil(t, e.SubjectContentID)
	assert.Equal(t, "Quick question", f.store.contents[*e.SubjectContentID].Text)
	assert.Equal(t, "body for step 0", f.store.contents[*e.BodyContentID].Text)
	require.Len(t, f.gen.requests, 1)
	assert.Equal(t, "Acme", f.gen.requests[0].Prospect.Company)
}

func TestEnsureGenerated_NoOpWhenContentPresent(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")

	_, err := f.svc.EnsureGenerated(context.Background(), "e0")
	require.NoError(t, err)
	_, err = f.svc.EnsureGenerated(context.Background(), "e0")
	require.NoError(t, err)
	assert.Equal(t, 1, f.gen.calls)
}

func TestEnsureGenerated_FollowUpSubjectDerived(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")
	f.addEntry("e1", 1, "bump-1")
	ctx := context.Background()

	_, err := f.svc.EnsureGenerated(ctx, "e0")
	require.NoError(t, err)
	e1, err := f.svc.EnsureGenerated(ctx, "e1")
	require.NoError(t, err)

	assert.Equal(t, "Re: Quick question", f.store.contents[*e1.SubjectContentID].Text)
	assert.Equal(t, "Quick question", f.gen.requests[1].PreviousSubject)
}

func TestEnsureGenerated_FollowUpWaitsForPreviousSubject(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")
	f.addEntry("e1", 1, "bump-1")

	_, err := f.svc.EnsureGenerated(context.Background(), "e1")
	assert.True(t, errors.Is(err, generation.ErrGenerationFailure))
	assert.Equal(t, 0, f.gen.calls)
	assert.Equal(t, 1, f.store.entries["e1"].Attempts)
	assert.Equal(t, domain.EntryNeedsGeneration, f.store.entries["e1"].Status)
}

func TestEnsureGenerated_BoundedRetries(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")
	f.gen.fail = errors.New("upstream 503")
	ctx := context.Background()

	for i := 0; i < generation.DefaultMaxAttempts; i++ {
		_, err := f.svc.EnsureGenerated(ctx, "e0")
		assert.True(t, errors.Is(err, generation.ErrGenerationFailure))
	}
	assert.Equal(t, domain.EntryFailed, f.store.entries["e0"].Status)
	assert.Contains(t, f.store.entries["e0"].LastError, "upstream 503")
	assert.Equal(t, []string{"generation:e0"}, f.alert.alerts)

	_, err := f.svc.EnsureGenerated(ctx, "e0")
	assert.True(t, errors.Is(err, schedule.ErrEntryFailed))
	assert.Equal(t, generation.DefaultMaxAttempts, f.gen.calls)
}

func TestEnsureGenerated_HaltsRepliedThread(t *testing.T) {
	f := newFixture(t)
	f.addEntry("e0", 0, "init")
	f.store.threads["thread-1"].Status = domain.ThreadActiveConvo

	_, err := f.svc.EnsureGenerated(context.Background(), "e0")
	assert.True(t, errors.Is(err, generation.ErrNotEligible))
	assert.Equal(t, domain.EntryFailed, f.store.entries["e0"].Status)
	assert.Equal(t, 0, f.gen.calls)
}

func TestStartThread_Policies(t *testing.T) {
	t.Run("lazy", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.StartThread(context.Background(), "thread-1", "init")
		require.NoError(t, err)
		assert.Equal(t, []string{"thread-1-0"}, res.EntryIDs)
		assert.False(t, res.Generated)
		assert.False(t, f.sched.populated)
		assert.Equal(t, 0, f.gen.calls)
	})

	t.Run("up front, immediate", func(t *testing.T) {
		f := newFixture(t)
		f.svc.SetPolicy(generation.GenerationPolicy{UpFront: true, GenerateImmediately: true})
		res, err := f.svc.StartThread(context.Background(), "thread-1", "init")
		require.NoError(t, err)
		assert.Len(t, res.EntryIDs, 2)
		assert.True(t, res.Generated)
		assert.True(t, f.sched.populated)
		assert.Equal(t, domain.EntryScheduled, f.store.entries["thread-1-0"].Status)
	})

	t.Run("immediate failure deferred", func(t *testing.T) {
		f := newFixture(t)
		f.gen.fail = errors.New("timeout")
		f.svc.SetPolicy(generation.GenerationPolicy{GenerateImmediately: true})
		res, err := f.svc.StartThread(context.Background(), "thread-1", "init")
		require.NoError(t, err)
		assert.False(t, res.Generated)
		assert.Equal(t, domain.EntryNeedsGeneration, f.store.entries["thread-1-0"].Status)
	})
}

func TestReplySubject(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Quick question", "Re: Quick question"},
		{"Re: Quick question", "Re: Quick question"},
		{"RE: re:Quick question", "Re: Quick question"},
		{"  Hello  ", "Re: Hello"},
		{"Regarding the demo", "Re: Regarding the demo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, generation.ReplySubject(tt.in), tt.in)
	}
}
