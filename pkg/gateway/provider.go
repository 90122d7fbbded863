package gateway

import (
	"context"
	"fmt"
)

// Provider is one remote generation backend. Implementations are stateless
// with respect to credentials: the model and API key arrive per call so the
// gateway can vary them between attempts.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Generate makes one generation call.
	Generate(ctx context.Context, model, apiKey string, req Request) (*Response, error)
}

// NewProvider creates a provider by name: "openai", "anthropic" or "gemini".
func NewProvider(name string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(), nil
	case "anthropic":
		return NewAnthropicProvider(), nil
	case "gemini":
		return NewGeminiProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
