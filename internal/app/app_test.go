package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/contentgen"
	"github.com/ignite/outreach-sequencer/internal/domain"
	"github.com/ignite/outreach-sequencer/internal/smartlead"
)

func TestBuildGenerator_RequiresOneBackend(t *testing.T) {
	_, err := buildGenerator(context.Background(), &config.Config{})
	assert.Error(t, err)
}

func TestBuildGenerator_OpenAIOnly(t *testing.T) {
	cfg := &config.Config{OpenAI: config.OpenAIConfig{Enabled: true, APIKey: "sk-test", Model: "gpt-4o"}}
	g, err := buildGenerator(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &contentgen.OpenAIGenerator{}, g)
}

func TestBuildGenerator_FallbackChain(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	cfg := &config.Config{
		OpenAI:  config.OpenAIConfig{Enabled: true, APIKey: "sk-test"},
		Bedrock: config.BedrockConfig{Enabled: true, Region: "us-west-2", ModelID: "anthropic.claude-3-haiku-20240307-v1:0"},
	}
	g, err := buildGenerator(context.Background(), cfg)
	require.NoError(t, err)
	chain, ok := g.(contentgen.Fallback)
	require.True(t, ok)
	assert.Len(t, chain, 2)
}

func TestBuildClassifier(t *testing.T) {
	assert.IsType(t, contentgen.KeywordClassifier{}, buildClassifier(&config.Config{}))

	cfg := &config.Config{OpenAI: config.OpenAIConfig{Enabled: true, APIKey: "sk-test"}}
	assert.IsType(t, &contentgen.OpenAIClassifier{}, buildClassifier(cfg))
}

func TestBuildTransports_SmartleadIsFallback(t *testing.T) {
	reg, err := buildTransports(context.Background(), &config.Config{})
	require.NoError(t, err)

	tr, err := reg.TransportFor(context.Background(), &domain.Mailbox{})
	require.NoError(t, err)
	assert.IsType(t, &smartlead.Client{}, tr)

	_, err = reg.TransportFor(context.Background(), &domain.Mailbox{Provider: domain.ProviderSES})
	assert.Error(t, err)
}
