package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

const geminiKeyEnv = "GEMINI_API_KEY"

// GeminiClient serves gemini-* models through the Google AI backend.
type GeminiClient struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, opts ...ProviderOption) (*GeminiClient, error) {
	params := ProviderParams{APIKey: os.Getenv(geminiKeyEnv)}
	for _, opt := range opts {
		opt(&params)
	}
	if params.APIKey == "" {
		return nil, fmt.Errorf("%s is not set", geminiKeyEnv)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  params.APIKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	contents := []*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}
	result, err := c.client.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini completion with %s: %w", model, err)
	}
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("model %s returned no candidates", model)
	}
	var text strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}
