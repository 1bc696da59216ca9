package ses

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/sending"
)

type fakeAPI struct {
	in  *sesv2.SendEmailInput
	out *sesv2.SendEmailOutput
	err error
}

func (f *fakeAPI) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	return f.out, f.err
}

func message(replyTo string) *sending.Message {
	return &sending.Message{
		EntryID:          "entry-2",
		Thread:           &domain.Thread{ID: "thread-1", RecipientEmail: "ada@acme.io"},
		Mailbox:          &domain.Mailbox{ID: "mb-1", Address: "sam@seller.io", Name: "Sam Seller", Provider: domain.ProviderSES},
		Subject:          "Re: quick question",
		Body:             "<p>Following up.</p>",
		ReplyToMessageID: replyTo,
	}
}

func TestSendFollowUpThreadsOntoPrevious(t *testing.T) {
	api := &fakeAPI{out: &sesv2.SendEmailOutput{MessageId: aws.String("0100018e-abc")}}
	tr := NewTransportWithAPI(api, "us-west-2", "outreach")

	receipt, err := tr.Send(context.Background(), message("<0100018e-prev@us-west-2.amazonses.com>"))
	require.NoError(t, err)

	assert.Equal(t, "<0100018e-abc@us-west-2.amazonses.com>", receipt.MessageID)
	assert.Equal(t, "thread-1", receipt.ThreadID)
	assert.False(t, receipt.SentAt.IsZero())

	require.NotNil(t, api.in)
	assert.Equal(t, "sam@seller.io", aws.ToString(api.in.FromEmailAddress))
	assert.Equal(t, []string{"ada@acme.io"}, api.in.Destination.ToAddresses)
	assert.Equal(t, "outreach", aws.ToString(api.in.ConfigurationSetName))

	raw := string(api.in.Content.Raw.Data)
	assert.Contains(t, raw, "In-Reply-To: <0100018e-prev@us-west-2.amazonses.com>")
	assert.Contains(t, raw, "References: <0100018e-prev@us-west-2.amazonses.com>")
	assert.Contains(t, raw, "Subject: Re: quick question")
	assert.Contains(t, raw, "Following up.")
}

func TestSendInitialHasNoThreadingHeaders(t *testing.T) {
	api := &fakeAPI{out: &sesv2.SendEmailOutput{MessageId: aws.String("id-1")}}
	receipt, err := NewTransportWithAPI(api, "us-east-1", "").Send(context.Background(), message(""))
	require.NoError(t, err)

	assert.Equal(t, "<id-1@email.amazonses.com>", receipt.MessageID)
	assert.Nil(t, api.in.ConfigurationSetName)
	assert.NotContains(t, string(api.in.Content.Raw.Data), "In-Reply-To")
}

func TestSendErrors(t *testing.T) {
	_, err := NewTransportWithAPI(&fakeAPI{err: errors.New("throttled")}, "us-west-2", "").
		Send(context.Background(), message(""))
	assert.ErrorContains(t, err, "throttled")

	_, err = NewTransportWithAPI(&fakeAPI{out: &sesv2.SendEmailOutput{}}, "us-west-2", "").
		Send(context.Background(), message(""))
	assert.ErrorContains(t, err, "empty message id")
}
