package contentgen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/service/generation"
)

// InvokeAPI is the slice of the Bedrock runtime client used here.
type InvokeAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type bedrockMessage struct {
	Role    string         `json:"role"`
	Content []bedrockBlock `json:"content"`
}

type bedrockBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []bedrockBlock `json:"content"`
}

// BedrockGenerator implements generation.Generator with an Anthropic model
// on Bedrock.
type BedrockGenerator struct {
	api      InvokeAPI
	modelID  string
	prompter *Prompter
}

// NewBedrockGenerator loads AWS config for cfg.Region.
func NewBedrockGenerator(ctx context.Context, cfg appconfig.BedrockConfig, prompter *Prompter) (*BedrockGenerator, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewBedrockGeneratorWithAPI(bedrockruntime.NewFromConfig(awsCfg), cfg.ModelID, prompter), nil
}

// NewBedrockGeneratorWithAPI wraps an existing client.
func NewBedrockGeneratorWithAPI(api InvokeAPI, modelID string, prompter *Prompter) *BedrockGenerator {
	if prompter == nil {
		prompter = NewPrompter()
	}
	return &BedrockGenerator{api: api, modelID: modelID, prompter: prompter}
}

// Generate implements generation.Generator.
func (g *BedrockGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Content, error) {
	instructions, err := g.prompter.Render(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        1024,
		System:           systemPrompt,
		Messages: []bedrockMessage{{
			Role:    "user",
			Content: []bedrockBlock{{Type: "text", Text: instructions}},
		}},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := g.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock invoke: %w", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("parse bedrock response: %w", err)
	}
	var text string
	for _, b := range resp.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	return parseContent(text, req.StepIndex > 0)
}
