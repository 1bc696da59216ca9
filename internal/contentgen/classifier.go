package contentgen

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// replyStatuses are the statuses a reply can move a thread to.
var replyStatuses = []domain.ThreadStatus{
	domain.ThreadActiveConvo,
	domain.ThreadScheduling,
	domain.ThreadDemoSet,
	domain.ThreadNotInterested,
}

// OpenAIClassifier implements reconcile.Classifier with a chat completion.
type OpenAIClassifier struct {
	client ChatClient
	model  string
}

// NewOpenAIClassifier creates a classifier for model.
func NewOpenAIClassifier(client ChatClient, model string) *OpenAIClassifier {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClassifier{client: client, model: model}
}

// Classify asks the model for exactly one status label.
func (c *OpenAIClassifier) Classify(ctx context.Context, thread *domain.Thread, replyBody string) (domain.ThreadStatus, error) {
	labels := make([]string, len(replyStatuses))
	for i, s := range replyStatuses {
		labels[i] = string(s)
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "Classify the prospect's reply. Answer with one label only: " + strings.Join(labels, ", ") + "."},
			{Role: openai.ChatMessageRoleUser, Content: replyBody},
		},
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		return "", fmt.Errorf("openai classify: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	label := domain.ThreadStatus(strings.ToUpper(strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), ".\"'")))
	for _, s := range replyStatuses {
		if s == label {
			return s, nil
		}
	}
	return "", fmt.Errorf("unexpected classification %q", label)
}

// KeywordClassifier is the classifier used when no model is configured.
type KeywordClassifier struct{}

var (
	notInterestedPhrases = []string{"not interested", "unsubscribe", "remove me", "stop emailing", "no thanks", "no thank you"}
	schedulingPhrases    = []string{"calendar", "schedule", "book a time", "availability", "available", "meeting", "call on"}
)

// Classify implements reconcile.Classifier.
func (KeywordClassifier) Classify(_ context.Context, _ *domain.Thread, replyBody string) (domain.ThreadStatus, error) {
	body := strings.ToLower(replyBody)
	for _, p := range notInterestedPhrases {
		if strings.Contains(body, p) {
			return domain.ThreadNotInterested, nil
		}
	}
	for _, p := range schedulingPhrases {
		if strings.Contains(body, p) {
			return domain.ThreadScheduling, nil
		}
	}
	return domain.ThreadActiveConvo, nil
}
