package smartlead

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/reconcile"
)

const replyPayload = `{
  "event_type": "EMAIL_REPLY",
  "secret_key": "s3cret",
  "to_email": "Ada@Acme.io",
  "campaign_id": 4411,
  "subject": "Re: quick question",
  "sequence_number": 2,
  "event_timestamp": "2024-03-05T10:15:00Z",
  "sent_message": {"message_id": "<m2@smartlead>", "text": "Following up."},
  "reply_message": {"message_id": "<r1@acme>", "text": "Sure, let's talk Tuesday."}
}`

func TestKindFor(t *testing.T) {
	tests := map[string]domain.WebhookKind{
		"EMAIL_SENT":   domain.WebhookSent,
		"email_open":   domain.WebhookOpened,
		"EMAIL_REPLY":  domain.WebhookReplied,
		"EMAIL_BOUNCE": domain.WebhookBounced,
	}
	for in, want := range tests {
		got, ok := KindFor(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := KindFor("LEAD_CATEGORY_UPDATED")
	assert.False(t, ok)
}

func TestPeek(t *testing.T) {
	kind, err := Peek([]byte(replyPayload), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookReplied, kind)

	_, err = Peek([]byte(replyPayload), "other")
	assert.ErrorIs(t, err, ErrBadSecret)

	kind, err = Peek([]byte(replyPayload), "")
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookReplied, kind)

	_, err = Peek([]byte(`{"event_type":"LEAD_UNSUBSCRIBED"}`), "")
	assert.ErrorIs(t, err, reconcile.ErrUnknownKind)

	_, err = Peek([]byte(`{`), "")
	assert.ErrorIs(t, err, reconcile.ErrInvalidPayload)
}

func TestStripSecret(t *testing.T) {
	out, err := StripSecret([]byte(replyPayload))
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret_key")
	assert.NotContains(t, string(out), "s3cret")

	again, err := StripSecret([]byte(replyPayload))
	require.NoError(t, err)
	assert.Equal(t, out, again)

	ev, err := Decoder{}.Decode(domain.WebhookReplied, out)
	require.NoError(t, err)
	assert.Equal(t, "ada@acme.io", ev.RecipientEmail)
	assert.Equal(t, "Sure, let's talk Tuesday.", ev.Body)

	plain := []byte(`{"event_type":"EMAIL_OPEN"}`)
	out, err = StripSecret(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	_, err = StripSecret([]byte(`[1]`))
	assert.ErrorIs(t, err, reconcile.ErrInvalidPayload)
}

func TestDecodeReply(t *testing.T) {
	ev, err := Decoder{}.Decode(domain.WebhookReplied, []byte(replyPayload))
	require.NoError(t, err)

	assert.Equal(t, domain.WebhookReplied, ev.Kind)
	assert.Equal(t, "ada@acme.io", ev.RecipientEmail)
	assert.Equal(t, "4411", ev.ExternalCampaignID)
	assert.Equal(t, "<r1@acme>", ev.MessageID)
	assert.Equal(t, "Sure, let's talk Tuesday.", ev.Body)
	assert.Equal(t, 2, ev.SequenceNumber)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 15, 0, 0, time.UTC), ev.OccurredAt)
}

func TestDecodeSentUsesSentMessage(t *testing.T) {
	payload := `{"event_type":"EMAIL_SENT","to_email":"ada@acme.io","campaign_id":"cmp-1",
		"sent_message":{"message_id":"m1","html":"<p>Hi</p>","time":"1709546400000"}}`
	ev, err := Decoder{}.Decode(domain.WebhookSent, []byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "cmp-1", ev.ExternalCampaignID)
	assert.Equal(t, "m1", ev.MessageID)
	assert.Equal(t, "<p>Hi</p>", ev.Body)
	assert.Equal(t, time.UnixMilli(1709546400000).UTC(), ev.OccurredAt)
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.WebhookKind
		payload string
	}{
		{"malformed", domain.WebhookOpened, `{"to_email":`},
		{"bad email", domain.WebhookOpened, `{"event_type":"EMAIL_OPEN","to_email":"not-an-email","campaign_id":1}`},
		{"kind mismatch", domain.WebhookOpened, `{"event_type":"EMAIL_BOUNCE","to_email":"ada@acme.io","campaign_id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decoder{}.Decode(tt.kind, []byte(tt.payload))
			assert.ErrorIs(t, err, reconcile.ErrInvalidPayload)
		})
	}
}
