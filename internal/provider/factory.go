package provider

import (
	"context"
	"fmt"

	"github.com/opencode-ai/toolgate/pkg/types"
)

// New creates the backend selected by cfg.Provider.
func New(ctx context.Context, cfg types.BackendConfig) (*ChatBackend, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(ctx, cfg)
	case "anthropic":
		return NewAnthropic(ctx, cfg)
	case "ark":
		return NewArk(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown backend provider: %s", cfg.Provider)
	}
}
