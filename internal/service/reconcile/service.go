package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

const (
	// DefaultStaleAge is how long a record may sit PENDING or PROCESSING
	// before the recovery sweep requeues it.
	DefaultStaleAge = time.Hour

	// DefaultBatchSize bounds one recovery or backfill pass.
	DefaultBatchSize = 500
)

var outbound = []domain.ThreadStatus{
	domain.ThreadNotSent, domain.ThreadSentOutreach, domain.ThreadEmailOpened, domain.ThreadBumped,
}

// Service implements the Webhook Reconciler.
type Service struct {
	records    RecordRepository
	threads    ThreadRepository
	entries    EntryReader
	analytics  AnalyticsRepository
	classifier Classifier
	halter     Halter
	decoder    Decoder

	archiver   Archiver
	enqueuer   Enqueuer
	suppressor Suppressor
	clock      func() time.Time
}

// NewService creates a reconciler.
func NewService(records RecordRepository, threads ThreadRepository, entries EntryReader,
	analytics AnalyticsRepository, classifier Classifier, halter Halter, decoder Decoder) *Service {
	return &Service{
		records:    records,
		threads:    threads,
		entries:    entries,
		analytics:  analytics,
		classifier: classifier,
		halter:     halter,
		decoder:    decoder,
		clock:      time.Now,
	}
}

// SetArchiver enables raw payload archiving.
func (s *Service) SetArchiver(a Archiver) { s.archiver = a }

// SetEnqueuer makes recovery and backfill hand records to the task queue
// instead of processing them inline.
func (s *Service) SetEnqueuer(e Enqueuer) { s.enqueuer = e }

// SetSuppressor makes bounces add the recipient to the suppression list.
func (s *Service) SetSuppressor(sp Suppressor) { s.suppressor = sp }

// SetClock overrides the time source.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Ingest stores a PENDING record for the payload. A redelivery of the same
// payload returns the existing record. needsProcessing is false when the
// record already succeeded or is being processed.
func (s *Service) Ingest(ctx context.Context, kind domain.WebhookKind, payload []byte) (rec *domain.WebhookRecord, needsProcessing bool, err error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(payload) == 0 {
		return nil, false, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	sum := sha256.Sum256(payload)
	now := s.clock().UTC()
	stored, created, err := s.records.CreateOrGet(ctx, &domain.WebhookRecord{
		ID:          uuid.New().String(),
		Kind:        kind,
		PayloadHash: hex.EncodeToString(sum[:]),
		Payload:     append([]byte(nil), payload...),
		Status:      domain.ProcessingPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, false, fmt.Errorf("store webhook record: %w", err)
	}

	if created && s.archiver != nil {
		if err := s.archiver.Archive(ctx, stored); err != nil {
			logger.Warn("webhook archive failed", "record_id", stored.ID, "error", err)
		}
	}
	if !created {
		logger.Debug("duplicate webhook delivery", "record_id", stored.ID, "kind", kind, "status", stored.Status)
	}

	switch stored.Status {
	case domain.ProcessingPending, domain.ProcessingFailed:
		return stored, true, nil
	}
	return stored, false, nil
}

// Process runs the handler for one record. Handler failures are persisted
// on the record (FAILED with the reason) and not returned; the error return
// is reserved for failures to read or write the record itself.
func (s *Service) Process(ctx context.Context, recordID string) (*domain.WebhookRecord, error) {
	rec, err := s.records.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status == domain.ProcessingSucceeded {
		return rec, nil
	}
	claimed, err := s.records.Claim(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("claim record: %w", err)
	}
	if !claimed {
		return s.records.Get(ctx, rec.ID)
	}

	outcome, herr := s.handle(ctx, rec)
	if herr != nil {
		if err := s.records.Fail(ctx, rec.ID, herr.Error()); err != nil {
			return nil, fmt.Errorf("fail record: %w", err)
		}
		if errors.Is(herr, ErrNoMatchingThread) {
			logger.Warn("webhook has no matching thread", "record_id", rec.ID, "kind", rec.Kind)
		} else {
			logger.Error("webhook handler failed", "record_id", rec.ID, "kind", rec.Kind, "error", herr)
		}
	} else {
		if err := s.records.Complete(ctx, rec.ID, outcome); err != nil {
			return nil, fmt.Errorf("complete record: %w", err)
		}
		logger.Info("webhook processed", "record_id", rec.ID, "kind", rec.Kind, "outcome", outcome)
	}
	return s.records.Get(ctx, rec.ID)
}

// RecoverStale requeues PENDING and PROCESSING records untouched for longer
// than olderThan. It returns how many were requeued.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		olderThan = DefaultStaleAge
	}
	stale, err := s.records.ListStale(ctx, s.clock().Add(-olderThan), DefaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}
	return s.replay(ctx, stale)
}

// Backfill replays every FAILED record of kind, or of all kinds when kind
// is empty.
func (s *Service) Backfill(ctx context.Context, kind domain.WebhookKind) (int, error) {
	if kind != "" && !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	// Replayed records leave the FAILED set, so always read the first page.
	total := 0
	for {
		failed, _, err := s.records.ListFailed(ctx, kind, DefaultBatchSize, 0)
		if err != nil {
			return total, fmt.Errorf("list failed records: %w", err)
		}
		if len(failed) == 0 {
			return total, nil
		}
		n, err := s.replay(ctx, failed)
		total += n
		if err != nil {
			return total, err
		}
		if s.enqueuer == nil || len(failed) < DefaultBatchSize {
			// Inline processing may fail a record again; stop after one pass.
			return total, nil
		}
	}
}

// ListFailed returns FAILED records for the operator view.
func (s *Service) ListFailed(ctx context.Context, kind domain.WebhookKind, limit, offset int) ([]domain.WebhookRecord, int, error) {
	return s.records.ListFailed(ctx, kind, limit, offset)
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, id string) (*domain.WebhookRecord, error) {
	return s.records.Get(ctx, id)
}

func (s *Service) replay(ctx context.Context, recs []domain.WebhookRecord) (int, error) {
	n := 0
	for i := range recs {
		r := &recs[i]
		if err := s.records.Requeue(ctx, r.ID); err != nil {
			return n, fmt.Errorf("requeue %s: %w", r.ID, err)
		}
		if s.enqueuer != nil {
			if err := s.enqueuer.EnqueueWebhook(ctx, r.ID); err != nil {
				return n, fmt.Errorf("enqueue %s: %w", r.ID, err)
			}
		} else if _, err := s.Process(ctx, r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
