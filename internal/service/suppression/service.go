package suppression

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

// Service implements the suppression list. It is safe for concurrent use.
type Service struct {
	repo Repository
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Normalize lowercases and trims an address.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex SHA-256 of the normalised address, used to
// share the list without exposing addresses.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(Normalize(email)))
	return hex.EncodeToString(sum[:])
}

// IsSuppressed checks whether an address must not be mailed.
func (s *Service) IsSuppressed(ctx context.Context, email string) (bool, error) {
	return s.repo.IsSuppressed(ctx, Normalize(email))
}

// Suppress adds an address to the list. Idempotent.
func (s *Service) Suppress(ctx context.Context, email string, reason domain.SuppressionReason, source, threadID string) error {
	email = Normalize(email)
	if err := checkmail.ValidateFormat(email); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if !reason.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	err := s.repo.Suppress(ctx, &domain.Suppression{
		Email:     email,
		EmailHash: HashEmail(email),
		Reason:    reason,
		Source:    source,
		ThreadID:  threadID,
	})
	if err != nil {
		return err
	}
	logger.Info("recipient suppressed", "email", email, "reason", reason, "source", source, "thread_id", threadID)
	return nil
}

// Remove takes an address off the list.
func (s *Service) Remove(ctx context.Context, email string) error {
	email = Normalize(email)
	if email == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	return s.repo.Remove(ctx, email)
}

// List returns suppression entries matching the given filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.Suppression, int, error) {
	if filter.Reason != "" && !filter.Reason.Valid() {
		return nil, 0, fmt.Errorf("%w: %q", ErrInvalidReason, filter.Reason)
	}
	return s.repo.List(ctx, filter)
}
