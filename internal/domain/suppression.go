package domain

import "time"

// SuppressionReason records why a recipient stopped receiving mail.
type SuppressionReason string

const (
	SuppressBounce      SuppressionReason = "BOUNCE"
	SuppressUnsubscribe SuppressionReason = "UNSUBSCRIBE"
	SuppressManual      SuppressionReason = "MANUAL"
)

// Valid reports whether r is a known reason.
func (r SuppressionReason) Valid() bool {
	switch r {
	case SuppressBounce, SuppressUnsubscribe, SuppressManual:
		return true
	}
	return false
}

// Suppression blocks every future send to one recipient address.
type Suppression struct {
	ID        string            `json:"id" db:"id"`
	Email     string            `json:"email" db:"email"`
	EmailHash string            `json:"email_hash" db:"email_hash"`
	Reason    SuppressionReason `json:"reason" db:"reason"`
	Source    string            `json:"source" db:"source"`
	ThreadID  string            `json:"thread_id,omitempty" db:"thread_id"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}
