package contentgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

// ChatClient is the slice of the go-openai client used here.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrEmptyCompletion is returned when the model produced nothing usable.
var ErrEmptyCompletion = errors.New("empty completion")

const systemPrompt = `You write one outbound sales email at a time. ` +
	`Respond with a JSON object {"subject": string, "body": string}. ` +
	`For follow-ups the subject is ignored and may be empty.`

// OpenAIGenerator implements generation.Generator with chat completions.
type OpenAIGenerator struct {
	client   ChatClient
	model    string
	prompter *Prompter
}

// NewOpenAIGenerator creates a generator for model.
func NewOpenAIGenerator(client ChatClient, model string, prompter *Prompter) *OpenAIGenerator {
	if model == "" {
		model = openai.GPT4o
	}
	if prompter == nil {
		prompter = NewPrompter()
	}
	return &OpenAIGenerator{client: client, model: model, prompter: prompter}
}

// Generate implements generation.Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Content, error) {
	instructions, err := g.prompter.Render(req)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: instructions},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	return parseContent(resp.Choices[0].Message.Content, req.StepIndex > 0)
}

// parseContent reads the {"subject","body"} object a model returned.
func parseContent(raw string, followUp bool) (*generation.Content, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var c struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &c); err != nil {
		return nil, fmt.Errorf("parse completion: %w", err)
	}
	c.Subject = strings.TrimSpace(c.Subject)
	c.Body = strings.TrimSpace(c.Body)
	if c.Body == "" || (!followUp && c.Subject == "") {
		return nil, ErrEmptyCompletion
	}
	return &generation.Content{Subject: c.Subject, Body: c.Body}, nil
}
