package suppression

import (
	"context"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Repository defines the data access contract for the suppression list.
type Repository interface {
	// IsSuppressed reports whether the normalised address is on the list.
	IsSuppressed(ctx context.Context, email string) (bool, error)

	// Suppress adds an address. An existing active entry is kept as is.
	Suppress(ctx context.Context, s *domain.Suppression) error

	// Remove deactivates an entry. Returns ErrNotFound if none is active.
	Remove(ctx context.Context, email string) error

	// List returns active entries, newest first, and the total count.
	List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int, error)
}

// ListFilter controls pagination and filtering for suppression lists.
type ListFilter struct {
	Reason domain.SuppressionReason
	Limit  int
	Offset int
}
