package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// NewArk creates a backend for Volcengine ARK. Model is the endpoint id and
// has no default.
func NewArk(ctx context.Context, cfg types.BackendConfig) (*ChatBackend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("ark model (endpoint id) not set")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}

	modelCfg := &ark.ChatModelConfig{
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		MaxTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		modelCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := ark.NewChatModel(ctx, modelCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create ARK model: %w", err)
	}

	return NewChatBackend(chatModel, Options{
		Name:        "ark",
		Temperature: cfg.Temperature,
	}), nil
}
