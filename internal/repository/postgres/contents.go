package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

// ContentRepo stores generated subjects and bodies.
type ContentRepo struct{ db *sql.DB }

// NewContentRepo creates a Postgres-backed content repository.
func NewContentRepo(db *sql.DB) *ContentRepo { return &ContentRepo{db: db} }

func (r *ContentRepo) Create(ctx context.Context, c *domain.GeneratedContent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO generated_content (id, thread_id, kind, text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.ThreadID, c.Kind, c.Text, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create content: %w", err)
	}
	return nil
}

func (r *ContentRepo) Get(ctx context.Context, id string) (*domain.GeneratedContent, error) {
	c := &domain.GeneratedContent{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, thread_id, kind, text, created_at FROM generated_content WHERE id = $1
	`, id).Scan(&c.ID, &c.ThreadID, &c.Kind, &c.Text, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, generation.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get content: %w", err)
	}
	return c, nil
}
