package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
)

// WebhookRecordRepo implements reconcile.RecordRepository.
type WebhookRecordRepo struct{ db *sql.DB }

// NewWebhookRecordRepo creates a Postgres-backed processing record repository.
func NewWebhookRecordRepo(db *sql.DB) *WebhookRecordRepo { return &WebhookRecordRepo{db: db} }

const recordColumns = `
	id, kind, payload_hash, payload, status, attempts, outcome, last_error, created_at, updated_at`

func scanRecord(s rowScanner) (*domain.WebhookRecord, error) {
	r := &domain.WebhookRecord{}
	var payload []byte
	err := s.Scan(&r.ID, &r.Kind, &r.PayloadHash, &payload, &r.Status, &r.Attempts,
		&r.Outcome, &r.LastError, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Payload = payload
	return r, nil
}

func (r *WebhookRecordRepo) queryRecords(ctx context.Context, what, q string, args ...interface{}) ([]domain.WebhookRecord, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var out []domain.WebhookRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (r *WebhookRecordRepo) CreateOrGet(ctx context.Context, rec *domain.WebhookRecord) (*domain.WebhookRecord, bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_records (id, kind, payload_hash, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (kind, payload_hash) DO NOTHING
	`, rec.ID, rec.Kind, rec.PayloadHash, []byte(rec.Payload), rec.Status, rec.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert webhook record: %w", err)
	}
	n, _ := res.RowsAffected()

	stored, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM webhook_records WHERE kind = $1 AND payload_hash = $2
	`, rec.Kind, rec.PayloadHash))
	if err != nil {
		return nil, false, fmt.Errorf("read back webhook record: %w", err)
	}
	return stored, n > 0, nil
}

func (r *WebhookRecordRepo) Get(ctx context.Context, id string) (*domain.WebhookRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM webhook_records WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, reconcile.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook record: %w", err)
	}
	return rec, nil
}

func (r *WebhookRecordRepo) Claim(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records
		SET status = 'PROCESSING', attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'FAILED')
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim webhook record: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *WebhookRecordRepo) Complete(ctx context.Context, id, outcome string) error {
	return r.finish(ctx, id, domain.ProcessingSucceeded, outcome, "")
}

func (r *WebhookRecordRepo) Fail(ctx context.Context, id, reason string) error {
	return r.finish(ctx, id, domain.ProcessingFailed, "", reason)
}

func (r *WebhookRecordRepo) finish(ctx context.Context, id string, status domain.ProcessingStatus, outcome, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records SET status = $2, outcome = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status, outcome, reason)
	if err != nil {
		return fmt.Errorf("finish webhook record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reconcile.ErrRecordNotFound
	}
	return nil
}

func (r *WebhookRecordRepo) Requeue(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webhook_records SET status = 'PENDING', updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("requeue webhook record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return reconcile.ErrRecordNotFound
	}
	return nil
}

func (r *WebhookRecordRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]domain.WebhookRecord, error) {
	return r.queryRecords(ctx, "list stale webhook records", `
		SELECT `+recordColumns+` FROM webhook_records
		WHERE status IN ('PENDING', 'PROCESSING') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff.UTC(), limit)
}

func (r *WebhookRecordRepo) ListFailed(ctx context.Context, kind domain.WebhookKind, limit, offset int) ([]domain.WebhookRecord, int, error) {
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM webhook_records WHERE status = 'FAILED' AND ($1 = '' OR kind = $1)
	`, kind).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count failed webhook records: %w", err)
	}
	out, err := r.queryRecords(ctx, "list failed webhook records", `
		SELECT `+recordColumns+` FROM webhook_records
		WHERE status = 'FAILED' AND ($1 = '' OR kind = $1)
		ORDER BY created_at
		LIMIT $2 OFFSET $3
	`, kind, limit, offset)
	return out, total, err
}
