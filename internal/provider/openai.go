package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// NewOpenAI creates a backend for OpenAI or any OpenAI-compatible endpoint.
func NewOpenAI(ctx context.Context, cfg types.BackendConfig) (*ChatBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}
	modelID := cfg.Model
	if modelID == "" {
		modelID = "gpt-4o"
	}

	modelCfg := &openai.ChatModelConfig{
		APIKey:              cfg.APIKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens, // max_tokens is rejected by newer models
	}
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}

	return NewChatBackend(chatModel, Options{
		Name:        "openai",
		Temperature: cfg.Temperature,
	}), nil
}
