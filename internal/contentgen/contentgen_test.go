package contentgen

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

type fakeChat struct {
	reply string
	err   error
	got   openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.got = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: f.reply}},
	}}, nil
}

type fakeInvoke struct {
	body []byte
	err  error
	in   *bedrockruntime.InvokeModelInput
}

func (f *fakeInvoke) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: f.body}, nil
}

func request(step int, instructions string) generation.Request {
	return generation.Request{
		Thread:          &domain.Thread{ID: "thread-1", Status: domain.ThreadSentOutreach, SentCount: 1},
		Prospect:        &domain.Prospect{FirstName: "Ada", Company: "Acme", Title: "CTO"},
		Template:        &domain.SequenceTemplate{ID: "tpl-1", Title: "Intro", Trigger: domain.TriggerInitial, Instructions: instructions},
		StepIndex:       step,
		PreviousSubject: "quick question",
	}
}

func TestPrompterRender(t *testing.T) {
	p := NewPrompter()
	out, err := p.Render(request(0, `Write to {{ prospect.first_name }}, {{ prospect.title }} at {{ prospect.company }}.`))
	require.NoError(t, err)
	assert.Equal(t, "Write to Ada, CTO at Acme.", out)
}

func TestPrompterDefaultFilterAndFollowUp(t *testing.T) {
	req := request(1, `Hi {{ prospect.industry | default: "there" }}{% if is_follow_up %}, re {{ previous_subject }}{% endif %}`)
	out, err := NewPrompter().Render(req)
	require.NoError(t, err)
	assert.Equal(t, "Hi there, re quick question", out)
}

func TestPrompterCachesByTemplateID(t *testing.T) {
	p := NewPrompter()
	_, err := p.Render(request(0, "first {{ step_index }}"))
	require.NoError(t, err)

	// Same id, new text: the cached parse wins until Forget.
	out, _ := p.Render(request(0, "second"))
	assert.Equal(t, "first 0", out)

	p.Forget("tpl-1")
	out, _ = p.Render(request(0, "second"))
	assert.Equal(t, "second", out)
}

func TestPrompterParseError(t *testing.T) {
	_, err := NewPrompter().Render(request(0, "{% if is_follow_up %}unterminated"))
	assert.Error(t, err)
}

func TestOpenAIGenerator(t *testing.T) {
	chat := &fakeChat{reply: `{"subject":"Quick question","body":"Hi Ada, ..."}`}
	g := NewOpenAIGenerator(chat, "gpt-4o", nil)

	c, err := g.Generate(context.Background(), request(0, "Write to {{ prospect.first_name }}"))
	require.NoError(t, err)
	assert.Equal(t, "Quick question", c.Subject)
	assert.Equal(t, "Hi Ada, ...", c.Body)

	require.Len(t, chat.got.Messages, 2)
	assert.Equal(t, "Write to Ada", chat.got.Messages[1].Content)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, chat.got.ResponseFormat.Type)
}

func TestOpenAIGeneratorFollowUpMayOmitSubject(t *testing.T) {
	chat := &fakeChat{reply: "```json\n{\"body\":\"Bumping this.\"}\n```"}
	c, err := NewOpenAIGenerator(chat, "", nil).Generate(context.Background(), request(2, "bump"))
	require.NoError(t, err)
	assert.Equal(t, "Bumping this.", c.Body)
}

func TestOpenAIGeneratorRejectsEmpty(t *testing.T) {
	chat := &fakeChat{reply: `{"subject":"","body":"x"}`}
	_, err := NewOpenAIGenerator(chat, "", nil).Generate(context.Background(), request(0, "x"))
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestBedrockGenerator(t *testing.T) {
	body, _ := json.Marshal(bedrockResponse{Content: []bedrockBlock{{Type: "text", Text: `{"subject":"Hello","body":"Body text"}`}}})
	api := &fakeInvoke{body: body}
	g := NewBedrockGeneratorWithAPI(api, "anthropic.claude-3-haiku", nil)

	c, err := g.Generate(context.Background(), request(0, "Write to {{ prospect.company }}"))
	require.NoError(t, err)
	assert.Equal(t, "Hello", c.Subject)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.in.ModelId))

	var sent bedrockRequest
	require.NoError(t, json.Unmarshal(api.in.Body, &sent))
	assert.Equal(t, "Write to Acme", sent.Messages[0].Content[0].Text)
}

func TestFallback(t *testing.T) {
	primary := NewOpenAIGenerator(&fakeChat{err: errors.New("rate limited")}, "", nil)
	body, _ := json.Marshal(bedrockResponse{Content: []bedrockBlock{{Type: "text", Text: `{"subject":"S","body":"B"}`}}})
	secondary := NewBedrockGeneratorWithAPI(&fakeInvoke{body: body}, "m", nil)

	c, err := Fallback{primary, secondary}.Generate(context.Background(), request(0, "x"))
	require.NoError(t, err)
	assert.Equal(t, "B", c.Body)

	_, err = Fallback{primary}.Generate(context.Background(), request(0, "x"))
	assert.ErrorContains(t, err, "rate limited")

	_, err = Fallback{}.Generate(context.Background(), request(0, "x"))
	assert.Error(t, err)
}

func TestOpenAIClassifier(t *testing.T) {
	tests := []struct {
		reply   string
		want    domain.ThreadStatus
		wantErr bool
	}{
		{"SCHEDULING", domain.ThreadScheduling, false},
		{" not_interested. ", domain.ThreadNotInterested, false},
		{"BUMPED", "", true},
		{"maybe", "", true},
	}
	for _, tt := range tests {
		got, err := NewOpenAIClassifier(&fakeChat{reply: tt.reply}, "").Classify(context.Background(), nil, "reply text")
		if tt.wantErr {
			assert.Error(t, err, tt.reply)
			continue
		}
		require.NoError(t, err, tt.reply)
		assert.Equal(t, tt.want, got)
	}
}

func TestKeywordClassifier(t *testing.T) {
	c := KeywordClassifier{}
	ctx := context.Background()

	got, _ := c.Classify(ctx, nil, "Please remove me from your list")
	assert.Equal(t, domain.ThreadNotInterested, got)

	got, _ = c.Classify(ctx, nil, "Sure, send me your calendar link")
	assert.Equal(t, domain.ThreadScheduling, got)

	got, _ = c.Classify(ctx, nil, "Tell me more about pricing")
	assert.Equal(t, domain.ThreadActiveConvo, got)
}
