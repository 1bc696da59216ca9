package sequence

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Resolver selects templates for thread steps.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver backed by the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Step identifies a position in a chain: the trigger plus, for BUMPED, the
// bump number (1-based).
type Step struct {
	Trigger   domain.TemplateTrigger
	BumpCount int
}

// StepFor maps a follow-up position to its step. Position 1 is the
// ACCEPTED follow-up when the chain has one.
func StepFor(followUp int, hasAccepted bool) Step {
	if hasAccepted {
		if followUp == 1 {
			return Step{Trigger: domain.TriggerAccepted}
		}
		return Step{Trigger: domain.TriggerBumped, BumpCount: followUp - 1}
	}
	return Step{Trigger: domain.TriggerBumped, BumpCount: followUp}
}

// Get returns a template by id.
func (r *Resolver) Get(ctx context.Context, id string) (*domain.SequenceTemplate, error) {
	return r.repo.Get(ctx, id)
}

// Resolve picks the template for a step. Templates whose creative asset was
// already attached earlier in the chain are avoided when an alternative
// exists. Ties break on creation time, then id.
func (r *Resolver) Resolve(ctx context.Context, personaID string, step Step, usedAssets map[string]bool) (*domain.SequenceTemplate, error) {
	candidates, err := r.repo.ListActive(ctx, personaID, step.Trigger, step.BumpCount)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: persona %s %s #%d", ErrNoTemplate, personaID, step.Trigger, step.BumpCount)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})

	for i := range candidates {
		t := candidates[i]
		if t.AssetID == nil || !usedAssets[*t.AssetID] {
			return &t, nil
		}
	}
	// Every candidate reuses an asset; reuse beats stopping the chain.
	t := candidates[0]
	return &t, nil
}

// Chain resolves the full forward chain for a persona: the initial template,
// an optional ACCEPTED follow-up, then up to domain.MaxBumps BUMPED
// follow-ups. It stops at the first bump with no eligible template.
func (r *Resolver) Chain(ctx context.Context, personaID, initialTemplateID string) ([]domain.SequenceTemplate, error) {
	initial, err := r.repo.Get(ctx, initialTemplateID)
	if err != nil {
		return nil, err
	}
	if initial.Trigger != domain.TriggerInitial {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongTrigger, initial.ID, initial.Trigger)
	}

	chain := []domain.SequenceTemplate{*initial}
	used := map[string]bool{}
	markUsed(used, initial)

	accepted, err := r.Resolve(ctx, personaID, Step{Trigger: domain.TriggerAccepted}, used)
	switch {
	case err == nil:
		chain = append(chain, *accepted)
		markUsed(used, accepted)
	case !errors.Is(err, ErrNoTemplate):
		return nil, err
	}

	for bump := 1; bump <= domain.MaxBumps; bump++ {
		t, err := r.Resolve(ctx, personaID, Step{Trigger: domain.TriggerBumped, BumpCount: bump}, used)
		if errors.Is(err, ErrNoTemplate) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, *t)
		markUsed(used, t)
	}
	return chain, nil
}

// UsedAssets collects the asset ids attached to the given templates.
func UsedAssets(templates []domain.SequenceTemplate) map[string]bool {
	used := make(map[string]bool, len(templates))
	for i := range templates {
		markUsed(used, &templates[i])
	}
	return used
}

func markUsed(used map[string]bool, t *domain.SequenceTemplate) {
	if t.AssetID != nil {
		used[*t.AssetID] = true
	}
}
