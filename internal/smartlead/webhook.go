package smartlead

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
)

// ErrBadSecret is returned when a payload's secret_key does not match.
var ErrBadSecret = errors.New("webhook secret mismatch")

var eventKinds = map[string]domain.WebhookKind{
	EventEmailSent:   domain.WebhookSent,
	EventEmailOpen:   domain.WebhookOpened,
	EventEmailReply:  domain.WebhookReplied,
	EventEmailBounce: domain.WebhookBounced,
}

// KindFor maps a Smartlead event_type to a webhook kind.
func KindFor(eventType string) (domain.WebhookKind, bool) {
	k, ok := eventKinds[strings.ToUpper(strings.TrimSpace(eventType))]
	return k, ok
}

// Peek reads the event type of a raw payload and checks its secret. An
// empty secret disables the check.
func Peek(payload []byte, secret string) (domain.WebhookKind, error) {
	var p struct {
		EventType string `json:"event_type"`
		SecretKey string `json:"secret_key"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", reconcile.ErrInvalidPayload, err)
	}
	if secret != "" && subtle.ConstantTimeCompare([]byte(p.SecretKey), []byte(secret)) != 1 {
		return "", ErrBadSecret
	}
	kind, ok := KindFor(p.EventType)
	if !ok {
		return "", fmt.Errorf("%w: %q", reconcile.ErrUnknownKind, p.EventType)
	}
	return kind, nil
}

// StripSecret removes secret_key from a raw payload so the shared secret is
// never stored or archived. Object keys come back sorted, so the same
// delivery always yields the same bytes.
func StripSecret(payload []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrInvalidPayload, err)
	}
	if _, ok := fields["secret_key"]; !ok {
		return payload, nil
	}
	delete(fields, "secret_key")
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrInvalidPayload, err)
	}
	return out, nil
}

// Decoder implements reconcile.Decoder for Smartlead payloads.
type Decoder struct{}

// Decode normalises a stored payload into a DeliveryEvent.
func (Decoder) Decode(kind domain.WebhookKind, payload []byte) (*domain.DeliveryEvent, error) {
	var p WebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", reconcile.ErrInvalidPayload, err)
	}
	if got, ok := KindFor(p.EventType); ok && got != kind {
		return nil, fmt.Errorf("%w: event_type %s stored as %s", reconcile.ErrInvalidPayload, p.EventType, kind)
	}

	email := strings.ToLower(strings.TrimSpace(p.ToEmail))
	if err := checkmail.ValidateFormat(email); err != nil {
		return nil, fmt.Errorf("%w: to_email: %v", reconcile.ErrInvalidPayload, err)
	}

	ev := &domain.DeliveryEvent{
		Kind:               kind,
		RecipientEmail:     email,
		ExternalCampaignID: string(p.CampaignID),
		Subject:            p.Subject,
		SequenceNumber:     p.SequenceNumber,
	}
	if t, ok := parseTime(p.EventTimestamp); ok {
		ev.OccurredAt = t
	}

	msg := p.SentMessage
	if kind == domain.WebhookReplied {
		msg = p.ReplyMessage
	}
	if msg != nil {
		ev.MessageID = msg.MessageID
		ev.Body = msg.Text
		if ev.Body == "" {
			ev.Body = msg.HTML
		}
		if ev.OccurredAt.IsZero() {
			if t, ok := parseTime(msg.Time); ok {
				ev.OccurredAt = t
			}
		}
	}
	return ev, nil
}
