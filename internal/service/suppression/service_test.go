package suppression

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu    sync.RWMutex
	store map[string]*domain.Suppression // keyed by email
	seq   int
}

func newMockRepo() *mockRepo {
	return &mockRepo{store: make(map[string]*domain.Suppression)}
}

func (m *mockRepo) IsSuppressed(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.store[email]
	return ok, nil
}

func (m *mockRepo) Suppress(_ context.Context, s *domain.Suppression) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store[s.Email]; exists {
		return nil
	}
	m.seq++
	cp := *s
	cp.ID = string(rune('a' + m.seq))
	m.store[s.Email] = &cp
	return nil
}

func (m *mockRepo) Remove(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[email]; !ok {
		return ErrNotFound
	}
	delete(m.store, email)
	return nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter) ([]domain.Suppression, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.Suppression
	for _, s := range m.store {
		if f.Reason != "" && s.Reason != f.Reason {
			continue
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, len(result), nil
}

func TestSuppress_AddsEmailToList(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.Suppress(ctx, " BOUNCE@example.com", domain.SuppressBounce, "webhook", "thread-1"); err != nil {
		t.Fatalf("Suppress: %v", err)
	}

	ok, err := svc.IsSuppressed(ctx, "bounce@example.com")
	if err != nil {
		t.Fatalf("IsSuppressed: %v", err)
	}
	if !ok {
		t.Error("expected email to be suppressed after Suppress()")
	}

	got := repo.store["bounce@example.com"]
	if got.EmailHash != HashEmail("bounce@example.com") {
		t.Errorf("unexpected hash %q", got.EmailHash)
	}
	if got.ThreadID != "thread-1" {
		t.Errorf("expected thread id to be kept, got %q", got.ThreadID)
	}
}

func TestSuppress_Idempotent(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Suppress(ctx, "dup@example.com", domain.SuppressManual, "api", ""); err != nil {
			t.Fatalf("Suppress #%d: %v", i, err)
		}
	}

	_, total, _ := svc.List(ctx, ListFilter{})
	if total != 1 {
		t.Errorf("expected 1 suppression, got %d", total)
	}
}

func TestSuppress_InvalidInput(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	if err := svc.Suppress(ctx, "", domain.SuppressBounce, "", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail for empty email, got %v", err)
	}
	if err := svc.Suppress(ctx, "not-an-address", domain.SuppressBounce, "", ""); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
	if err := svc.Suppress(ctx, "ok@example.com", "SPAM", "", ""); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("expected ErrInvalidReason, got %v", err)
	}
}

func TestRemove_DeletesSuppression(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_ = svc.Suppress(ctx, "remove@example.com", domain.SuppressManual, "api", "")

	if err := svc.Remove(ctx, "Remove@Example.com"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	ok, _ := svc.IsSuppressed(ctx, "remove@example.com")
	if ok {
		t.Error("expected email to no longer be suppressed after Remove()")
	}
}

func TestRemove_NotFound_ReturnsError(t *testing.T) {
	svc := NewService(newMockRepo())

	err := svc.Remove(context.Background(), "ghost@example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestList_FiltersByReason(t *testing.T) {
	svc := NewService(newMockRepo())
	ctx := context.Background()

	_ = svc.Suppress(ctx, "bounce1@example.com", domain.SuppressBounce, "webhook", "")
	_ = svc.Suppress(ctx, "unsub@example.com", domain.SuppressUnsubscribe, "api", "")
	_ = svc.Suppress(ctx, "bounce2@example.com", domain.SuppressBounce, "webhook", "")

	results, total, err := svc.List(ctx, ListFilter{Reason: domain.SuppressBounce})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 {
		t.Errorf("expected 2 bounces, got %d", total)
	}
	for _, r := range results {
		if r.Reason != domain.SuppressBounce {
			t.Errorf("unexpected reason: %s", r.Reason)
		}
	}

	if _, _, err := svc.List(ctx, ListFilter{Reason: "bogus"}); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("expected ErrInvalidReason, got %v", err)
	}
}
