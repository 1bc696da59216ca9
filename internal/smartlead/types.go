package smartlead

import (
	"encoding/json"
	"strconv"
	"time"
)

// Webhook event types as Smartlead names them.
const (
	EventEmailSent   = "EMAIL_SENT"
	EventEmailOpen   = "EMAIL_OPEN"
	EventEmailReply  = "EMAIL_REPLY"
	EventEmailBounce = "EMAIL_BOUNCE"
)

// SendRequest is the body of a send-message call.
type SendRequest struct {
	EmailAccount     string `json:"email_account"`
	ToEmail          string `json:"to_email"`
	Subject          string `json:"subject"`
	EmailBody        string `json:"email_body"`
	CampaignID       string `json:"campaign_id,omitempty"`
	ReplyToMessageID string `json:"reply_message_id,omitempty"`
	IdempotencyKey   string `json:"idempotency_key"`
}

// SendResponse is the API's acknowledgement of a send.
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
	SentAt    string `json:"sent_time"`
	Error     string `json:"error,omitempty"`
}

// WebhookMessage is the message block embedded in webhook payloads.
type WebhookMessage struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	HTML      string `json:"html"`
	Time      string `json:"time"`
}

// WebhookPayload is one Smartlead webhook delivery.
type WebhookPayload struct {
	EventType      string          `json:"event_type"`
	SecretKey      string          `json:"secret_key,omitempty"`
	ToEmail        string          `json:"to_email"`
	FromEmail      string          `json:"from_email"`
	CampaignID     FlexibleID      `json:"campaign_id"`
	Subject        string          `json:"subject"`
	SequenceNumber int             `json:"sequence_number"`
	EventTimestamp string          `json:"event_timestamp"`
	SentMessage    *WebhookMessage `json:"sent_message,omitempty"`
	ReplyMessage   *WebhookMessage `json:"reply_message,omitempty"`
}

// FlexibleID accepts either a JSON string or a JSON number.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

// parseTime accepts RFC 3339 timestamps and unix milliseconds.
func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
