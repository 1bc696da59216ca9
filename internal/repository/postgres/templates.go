package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/sequence"
)

// TemplateRepo implements sequence.Repository and the template analytics
// counters.
type TemplateRepo struct{ db *sql.DB }

// NewTemplateRepo creates a Postgres-backed template repository.
func NewTemplateRepo(db *sql.DB) *TemplateRepo { return &TemplateRepo{db: db} }

const templateColumns = `
	id, persona_id, trigger, bump_count, title, instructions, delay_days, asset_id, active, created_at`

func scanTemplate(s rowScanner) (*domain.SequenceTemplate, error) {
	t := &domain.SequenceTemplate{}
	err := s.Scan(&t.ID, &t.PersonaID, &t.Trigger, &t.BumpCount, &t.Title, &t.Instructions,
		&t.DelayDays, &t.AssetID, &t.Active, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepo) Get(ctx context.Context, id string) (*domain.SequenceTemplate, error) {
	t, err := scanTemplate(r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM sequence_templates WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, sequence.ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *TemplateRepo) ListActive(ctx context.Context, personaID string, trigger domain.TemplateTrigger, bumpCount int) ([]domain.SequenceTemplate, error) {
	q := `SELECT ` + templateColumns + ` FROM sequence_templates
		WHERE persona_id = $1 AND trigger = $2 AND active`
	args := []interface{}{personaID, trigger}
	if trigger == domain.TriggerBumped {
		q += ` AND bump_count = $3`
		args = append(args, bumpCount)
	}
	q += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Stats returns the analytics counters of a template; zero when untouched.
func (r *TemplateRepo) Stats(ctx context.Context, templateID string) (*domain.TemplateStats, error) {
	s := &domain.TemplateStats{TemplateID: templateID}
	err := r.db.QueryRowContext(ctx, `
		SELECT times_sent, times_opened, times_replied FROM template_stats WHERE template_id = $1
	`, templateID).Scan(&s.TimesSent, &s.TimesOpened, &s.TimesReplied)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("template stats: %w", err)
	}
	return s, nil
}

func (r *TemplateRepo) IncrementSent(ctx context.Context, templateID string) error {
	return increment(ctx, r.db, "times_sent", []string{templateID})
}

// IncrementOpened adds one open per listed template; a template listed
// twice is counted twice. The record's analytics marker makes a repeated
// call for the same webhook record a no-op.
func (r *TemplateRepo) IncrementOpened(ctx context.Context, recordID string, templateIDs []string) error {
	return r.incrementOnce(ctx, recordID, "times_opened", templateIDs)
}

func (r *TemplateRepo) IncrementReplied(ctx context.Context, recordID string, templateIDs []string) error {
	return r.incrementOnce(ctx, recordID, "times_replied", templateIDs)
}

func (r *TemplateRepo) incrementOnce(ctx context.Context, recordID, column string, ids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE webhook_records SET analytics_applied_at = NOW()
		WHERE id = $1 AND analytics_applied_at IS NULL
	`, recordID)
	if err != nil {
		return fmt.Errorf("mark analytics applied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if err := increment(ctx, tx, column, ids); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func increment(ctx context.Context, db execer, column string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO template_stats (template_id, %[1]s)
		SELECT id, COUNT(*) FROM UNNEST($1::text[]) AS t(id) GROUP BY id
		ON CONFLICT (template_id) DO UPDATE SET %[1]s = template_stats.%[1]s + EXCLUDED.%[1]s
	`, column), pq.Array(ids))
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}
