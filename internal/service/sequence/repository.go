package sequence

import (
	"context"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Repository defines read access to sequence templates.
type Repository interface {
	// Get returns a single template. Returns ErrTemplateNotFound if missing.
	Get(ctx context.Context, id string) (*domain.SequenceTemplate, error)

	// ListActive returns the persona's active templates for a trigger.
	// For BUMPED, only templates with the given bump count are returned.
	ListActive(ctx context.Context, personaID string, trigger domain.TemplateTrigger, bumpCount int) ([]domain.SequenceTemplate, error)
}
