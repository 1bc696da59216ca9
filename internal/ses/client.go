// Package ses is the SES v2 transport for mailboxes whose provider is "ses".
package ses

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"gopkg.in/gomail.v2"

	appconfig "github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/service/sending"
)

// API is the slice of the SES v2 client the transport uses.
type API interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Transport sends schedule entries through SES. It implements
// sending.Transport.
type Transport struct {
	api       API
	region    string
	configSet string
	now       func() time.Time
}

// NewTransport builds a transport from config. Empty keys use the default
// credential chain.
func NewTransport(ctx context.Context, cfg appconfig.SESConfig) (*Transport, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewTransportWithAPI(sesv2.NewFromConfig(awsCfg), cfg.Region, cfg.ConfigurationSet), nil
}

// NewTransportWithAPI wraps an existing client.
func NewTransportWithAPI(api API, region, configSet string) *Transport {
	return &Transport{api: api, region: region, configSet: configSet, now: time.Now}
}

// Send implements sending.Transport.
func (t *Transport) Send(ctx context.Context, msg *sending.Message) (*sending.Receipt, error) {
	raw, err := buildMIME(msg)
	if err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.Mailbox.Address),
		Destination:      &types.Destination{ToAddresses: []string{msg.Thread.RecipientEmail}},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		EmailTags: []types.MessageTag{
			{Name: aws.String("thread_id"), Value: aws.String(msg.Thread.ID)},
			{Name: aws.String("entry_id"), Value: aws.String(msg.EntryID)},
		},
	}
	if t.configSet != "" {
		input.ConfigurationSetName = aws.String(t.configSet)
	}

	out, err := t.api.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send entry %s: %w", msg.EntryID, err)
	}
	id := aws.ToString(out.MessageId)
	if id == "" {
		return nil, fmt.Errorf("ses send entry %s: empty message id", msg.EntryID)
	}

	// SES rewrites Message-ID to <id@region.amazonses.com>; store that form
	// so the next step can reply to it.
	return &sending.Receipt{
		MessageID: fmt.Sprintf("<%s@%s>", id, t.messageIDDomain()),
		ThreadID:  msg.Thread.ID,
		SentAt:    t.now().UTC(),
	}, nil
}

func (t *Transport) messageIDDomain() string {
	if t.region == "" || t.region == "us-east-1" {
		return "email.amazonses.com"
	}
	return t.region + ".amazonses.com"
}

// buildMIME renders the message as HTML, threading follow-ups onto the
// previous step.
func buildMIME(msg *sending.Message) ([]byte, error) {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.Mailbox.Address, msg.Mailbox.Name)
	m.SetHeader("To", msg.Thread.RecipientEmail)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyToMessageID != "" {
		m.SetHeader("In-Reply-To", msg.ReplyToMessageID)
		m.SetHeader("References", msg.ReplyToMessageID)
	}
	m.SetHeader("X-Entry-ID", msg.EntryID)
	m.SetBody("text/html", msg.Body)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("building MIME for entry %s: %w", msg.EntryID, err)
	}
	return buf.Bytes(), nil
}
