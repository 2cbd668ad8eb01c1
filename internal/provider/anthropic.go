package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// NewAnthropic creates a backend for Anthropic Claude models.
func NewAnthropic(ctx context.Context, cfg types.BackendConfig) (*ChatBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	modelCfg := &claude.Config{
		APIKey:    cfg.APIKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		modelCfg.BaseURL = &baseURL
	}

	chatModel, err := claude.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Claude model: %w", err)
	}

	return NewChatBackend(chatModel, Options{
		Name:        "anthropic",
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}), nil
}
