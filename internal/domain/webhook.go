package domain

import (
	"encoding/json"
	"time"
)

// WebhookKind is one of the four delivery-status events the transport emits.
type WebhookKind string

const (
	WebhookSent    WebhookKind = "email.sent"
	WebhookOpened  WebhookKind = "email.opened"
	WebhookReplied WebhookKind = "email.replied"
	WebhookBounced WebhookKind = "email.bounced"
)

// Valid reports whether k is a known webhook kind.
func (k WebhookKind) Valid() bool {
	switch k {
	case WebhookSent, WebhookOpened, WebhookReplied, WebhookBounced:
		return true
	}
	return false
}

// ProcessingStatus tracks a webhook payload through its handler.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "PENDING"
	ProcessingInProgress ProcessingStatus = "PROCESSING"
	ProcessingSucceeded  ProcessingStatus = "SUCCEEDED"
	ProcessingFailed     ProcessingStatus = "FAILED"
)

// WebhookRecord is the persisted processing-status record of one webhook
// payload. It is written before any side effect so a crash mid-processing
// leaves a PENDING or PROCESSING row behind for the stale sweep.
type WebhookRecord struct {
	ID          string           `json:"id" db:"id"`
	Kind        WebhookKind      `json:"kind" db:"kind"`
	PayloadHash string           `json:"payload_hash" db:"payload_hash"`
	Payload     json.RawMessage  `json:"payload" db:"payload"`
	Status      ProcessingStatus `json:"status" db:"status"`
	Attempts    int              `json:"attempts" db:"attempts"`
	Outcome     string           `json:"outcome,omitempty" db:"outcome"`
	LastError   string           `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
}

// DeliveryEvent is the normalised form of a transport webhook payload.
type DeliveryEvent struct {
	Kind               WebhookKind `json:"kind"`
	RecipientEmail     string      `json:"recipient_email"`
	ExternalCampaignID string      `json:"external_campaign_id"`
	MessageID          string      `json:"message_id,omitempty"`
	Subject            string      `json:"subject,omitempty"`
	Body               string      `json:"body,omitempty"`
	SequenceNumber     int         `json:"sequence_number,omitempty"`
	OccurredAt         time.Time   `json:"occurred_at"`
}
