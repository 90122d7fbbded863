package config

import (
	"fmt"
)

var supportedProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !supportedProviders[c.Provider] {
		return fmt.Errorf("unsupported provider: %q (want openai, anthropic or gemini)", c.Provider)
	}

	if len(c.Models.Fallback) == 0 && c.Models.Preferred == "" {
		return fmt.Errorf("at least one model candidate is required")
	}

	if len(c.APIKeys) == 0 {
		return fmt.Errorf("at least one API key is required")
	}
	for i, key := range c.APIKeys {
		if key == "" {
			return fmt.Errorf("api key %d is empty", i)
		}
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.Generation.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if c.Generation.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}

	if c.Conversation.MemoryWindow < 0 {
		return fmt.Errorf("memory window cannot be negative")
	}
	if c.Conversation.MaxToolRounds <= 0 {
		return fmt.Errorf("max tool rounds must be positive")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server address is required when the server is enabled")
	}

	if c.Quote.BaseURL == "" {
		return fmt.Errorf("quote base URL is required")
	}

	return nil
}
