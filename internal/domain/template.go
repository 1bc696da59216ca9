package domain

import "time"

// TemplateTrigger selects where in a chain a template applies.
type TemplateTrigger string

const (
	TriggerInitial  TemplateTrigger = "INITIAL"
	TriggerAccepted TemplateTrigger = "ACCEPTED"
	TriggerBumped   TemplateTrigger = "BUMPED"
)

// DefaultDelayDays is used when a template has no explicit delay.
const DefaultDelayDays = 3

// MaxBumps caps the number of BUMPED follow-ups in one chain.
const MaxBumps = 10

// SequenceTemplate is a message template for one persona and step.
// DelayDays is the wait after a step using this template before the next step.
type SequenceTemplate struct {
	ID           string          `json:"id" db:"id"`
	PersonaID    string          `json:"persona_id" db:"persona_id"`
	Trigger      TemplateTrigger `json:"trigger" db:"trigger"`
	BumpCount    int             `json:"bump_count" db:"bump_count"`
	Title        string          `json:"title" db:"title"`
	Instructions string          `json:"instructions" db:"instructions"`
	DelayDays    *int            `json:"delay_days" db:"delay_days"`
	AssetID      *string         `json:"asset_id" db:"asset_id"`
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Delay returns the configured delay, or DefaultDelayDays when unset or
// non-positive.
func (t *SequenceTemplate) Delay() int {
	if t == nil || t.DelayDays == nil || *t.DelayDays <= 0 {
		return DefaultDelayDays
	}
	return *t.DelayDays
}

// TemplateStats holds the cascading analytics counters of a template.
type TemplateStats struct {
	TemplateID   string `json:"template_id" db:"template_id"`
	TimesSent    int    `json:"times_sent" db:"times_sent"`
	TimesOpened  int    `json:"times_opened" db:"times_opened"`
	TimesReplied int    `json:"times_replied" db:"times_replied"`
}
