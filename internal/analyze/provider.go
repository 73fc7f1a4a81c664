package analyze

import (
	"context"
	"fmt"
)

// Provider is a single-turn completion backend. Implementations wrap one
// vendor SDK and return the raw response text.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

// Default models per provider. Overridable through config.
const (
	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultAnthropicModel = "claude-sonnet-4-5"
	DefaultOpenAIModel    = "gpt-4o"
)

// NewProvider builds the named provider. An empty model selects the
// provider's default.
func NewProvider(name, apiKey, model string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %q: API key not set", name)
	}
	switch name {
	case "gemini", "google":
		if model == "" {
			model = DefaultGeminiModel
		}
		return &geminiProvider{apiKey: apiKey, model: model}, nil
	case "anthropic", "claude":
		if model == "" {
			model = DefaultAnthropicModel
		}
		return newAnthropicProvider(apiKey, model), nil
	case "openai":
		if model == "" {
			model = DefaultOpenAIModel
		}
		return newOpenAIProvider(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", name)
	}
}
