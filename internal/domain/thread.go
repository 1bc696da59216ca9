package domain

import "time"

// ThreadStatus is the outreach status of a prospect's email thread.
type ThreadStatus string

const (
	ThreadNotSent       ThreadStatus = "NOT_SENT"
	ThreadSentOutreach  ThreadStatus = "SENT_OUTREACH"
	ThreadEmailOpened   ThreadStatus = "EMAIL_OPENED"
	ThreadBumped        ThreadStatus = "BUMPED"
	ThreadActiveConvo   ThreadStatus = "ACTIVE_CONVO"
	ThreadScheduling    ThreadStatus = "SCHEDULING"
	ThreadDemoSet       ThreadStatus = "DEMO_SET"
	ThreadDemoWon       ThreadStatus = "DEMO_WON"
	ThreadDemoLost      ThreadStatus = "DEMO_LOST"
	ThreadNotInterested ThreadStatus = "NOT_INTERESTED"
	ThreadBounced       ThreadStatus = "BOUNCED"
)

// IsOutbound reports whether the thread is still in the pre-reply phase,
// where scheduled follow-ups may keep going out.
func (s ThreadStatus) IsOutbound() bool {
	switch s {
	case ThreadNotSent, ThreadSentOutreach, ThreadEmailOpened, ThreadBumped:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition may apply.
func (s ThreadStatus) IsTerminal() bool {
	switch s {
	case ThreadDemoSet, ThreadDemoWon, ThreadDemoLost, ThreadNotInterested, ThreadBounced:
		return true
	}
	return false
}

// IsReplied reports whether the prospect has replied at some point.
func (s ThreadStatus) IsReplied() bool {
	return !s.IsOutbound() && s != ThreadBounced
}

// Valid reports whether s is a known status.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadNotSent, ThreadSentOutreach, ThreadEmailOpened, ThreadBumped,
		ThreadActiveConvo, ThreadScheduling, ThreadDemoSet, ThreadDemoWon,
		ThreadDemoLost, ThreadNotInterested, ThreadBounced:
		return true
	}
	return false
}

// Thread is the ongoing email conversation with one prospect, identified by
// the prospect's approved email record. Status is the single authoritative
// ThreadConversationState projection.
type Thread struct {
	ID                 string       `json:"id" db:"id"`
	ProspectID         string       `json:"prospect_id" db:"prospect_id"`
	SDRID              string       `json:"sdr_id" db:"sdr_id"`
	MailboxID          string       `json:"mailbox_id" db:"mailbox_id"`
	PersonaID          string       `json:"persona_id" db:"persona_id"`
	RecipientEmail     string       `json:"recipient_email" db:"recipient_email"`
	ExternalCampaignID string       `json:"external_campaign_id" db:"external_campaign_id"`
	Status             ThreadStatus `json:"status" db:"status"`
	SentCount          int          `json:"sent_count" db:"sent_count"`
	BumpCount          int          `json:"bump_count" db:"bump_count"`
	LastSubject        string       `json:"last_subject" db:"last_subject"`
	LastReplyBody      string       `json:"last_reply_body,omitempty" db:"last_reply_body"`
	LastSentAt         *time.Time   `json:"last_sent_at" db:"last_sent_at"`
	LastOpenedAt       *time.Time   `json:"last_opened_at" db:"last_opened_at"`
	LastRepliedAt      *time.Time   `json:"last_replied_at" db:"last_replied_at"`
	BouncedAt          *time.Time   `json:"bounced_at" db:"bounced_at"`
	LastEventRecordID  string       `json:"-" db:"last_event_record_id"`
	UpdatedAt          time.Time    `json:"updated_at" db:"updated_at"`
}

// Prospect carries the personalisation fields used when generating content.
type Prospect struct {
	ID        string `json:"id" db:"id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Title     string `json:"title" db:"title"`
	Company   string `json:"company" db:"company"`
	Industry  string `json:"industry" db:"industry"`
	Email     string `json:"email" db:"email"`
}

// SDR is the sales rep who owns the mailbox a thread is sent from.
type SDR struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Company  string `json:"company" db:"company"`
	Timezone string `json:"timezone" db:"timezone"`
}

// Mailbox is one sending inbox; Provider selects the transport.
type Mailbox struct {
	ID       string `json:"id" db:"id"`
	SDRID    string `json:"sdr_id" db:"sdr_id"`
	Address  string `json:"address" db:"address"`
	Name     string `json:"name" db:"name"`
	Provider string `json:"provider" db:"provider"`
}

const (
	ProviderSmartlead = "smartlead"
	ProviderSES       = "ses"
)
