// Package smartlead is the Smartlead transport: it sends outbound steps
// through the Smartlead API and decodes Smartlead webhook deliveries.
package smartlead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/pkg/httpretry"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
	"github.com/ignite/outreach-sequencer/internal/service/sending"
)

// Client is a Smartlead API client. It implements sending.Transport.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
	now        func() time.Time
}

// NewClient creates a new Smartlead API client
func NewClient(cfg config.SmartleadConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: cfg.Timeout(),
		}, cfg.MaxRetries),
		now: time.Now,
	}
}

// NewClientWithDoer is NewClient with an explicit HTTP client.
func NewClientWithDoer(baseURL, apiKey string, doer httpretry.HTTPDoer) *Client {
	return &Client{baseURL: baseURL, apiKey: apiKey, httpClient: doer, now: time.Now}
}

// doRequest makes an authenticated JSON request. Smartlead takes the API key
// as a query parameter.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	q := u.Query()
	q.Set("api_key", c.apiKey)
	u.RawQuery = q.Encode()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("smartlead API error", "path", path, "status", resp.StatusCode, "response", string(respBody))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Send implements sending.Transport. Follow-ups carry the previous step's
// message id so Smartlead threads them as replies.
func (c *Client) Send(ctx context.Context, msg *sending.Message) (*sending.Receipt, error) {
	req := SendRequest{
		EmailAccount:     msg.Mailbox.Address,
		ToEmail:          msg.Thread.RecipientEmail,
		Subject:          msg.Subject,
		EmailBody:        msg.Body,
		CampaignID:       msg.Thread.ExternalCampaignID,
		ReplyToMessageID: msg.ReplyToMessageID,
		IdempotencyKey:   msg.IdempotencyKey,
	}
	body, err := c.doRequest(ctx, http.MethodPost, "/send-email", req)
	if err != nil {
		return nil, fmt.Errorf("sending entry %s: %w", msg.EntryID, err)
	}

	var resp SendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing send response: %w", err)
	}
	if !resp.OK || resp.MessageID == "" {
		return nil, fmt.Errorf("send rejected: %s", resp.Error)
	}

	sentAt, ok := parseTime(resp.SentAt)
	if !ok {
		sentAt = c.now().UTC()
	}
	return &sending.Receipt{MessageID: resp.MessageID, ThreadID: resp.ThreadID, SentAt: sentAt}, nil
}
