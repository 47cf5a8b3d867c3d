package providers

import (
	"context"
	"fmt"
	"strings"
)

// Client completes a single prompt with a hosted model.
type Client interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
}

type ProviderParams struct {
	BaseURL string
	APIKey  string
}

type ProviderOption func(*ProviderParams)

func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) {
		p.BaseURL = baseURL
	}
}

func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) {
		p.APIKey = apiKey
	}
}

// ForModel picks a provider from the model name: gemini-* models use Gemini,
// everything else goes through the OpenAI-compatible client.
func ForModel(ctx context.Context, model string, opts ...ProviderOption) (Client, error) {
	if strings.HasPrefix(strings.ToLower(model), "gemini") {
		c, err := NewGemini(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gemini provider for %s: %w", model, err)
		}
		return c, nil
	}
	return OpenAi(ctx, opts...), nil
}
