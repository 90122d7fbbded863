package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config represents the main Concierge configuration
type Config struct {
	// Provider selects the generation backend: openai, anthropic, gemini.
	Provider string `json:"provider" mapstructure:"provider"`

	// Models holds the model fallback configuration.
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// APIKeys is the ordered credential slot list, primary first.
	APIKeys []string `json:"api_keys" mapstructure:"api_keys"`

	// Generation holds per-request generation parameters.
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`

	// Conversation holds turn-processing bounds.
	Conversation ConversationConfig `json:"conversation" mapstructure:"conversation"`

	// Server holds the WebSocket turn API configuration.
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Quote holds the currency quote API configuration.
	Quote QuoteConfig `json:"quote" mapstructure:"quote"`

	// Logging configuration.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is where sessions and the customer database live.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ModelsConfig holds the ranked model fallback list.
type ModelsConfig struct {
	// Preferred, when set, is inserted at the head of the fallback list.
	Preferred string `json:"preferred" mapstructure:"preferred"`

	// Fallback is the ranked candidate list, best first.
	Fallback []string `json:"fallback" mapstructure:"fallback"`
}

// GenerationConfig holds provider call parameters.
type GenerationConfig struct {
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// ConversationConfig bounds turn processing.
type ConversationConfig struct {
	// MemoryWindow is how many prior turns are replayed to the provider.
	MemoryWindow int `json:"memory_window" mapstructure:"memory_window"`

	// MaxToolRounds bounds the tool-calling loop per turn.
	MaxToolRounds int `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`

	// SessionMaxAge is how long an idle conversation is retained on disk.
	SessionMaxAge time.Duration `json:"session_max_age" mapstructure:"session_max_age"`
}

// ServerConfig holds the WebSocket turn API configuration.
type ServerConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// QuoteConfig holds the currency quote API configuration.
type QuoteConfig struct {
	BaseURL string        `json:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".concierge")
	}

	return &Config{
		Provider: "gemini",
		Models: ModelsConfig{
			Fallback: []string{
				"gemini-2.5-flash",
				"gemini-2.5-pro",
				"gemini-2.0-flash-001",
				"gemini-2.0-flash",
				"gemini-2.5-flash-lite",
				"gemini-2.0-flash-lite",
			},
		},
		Generation: GenerationConfig{
			Temperature:    0.7,
			MaxTokens:      4096,
			RequestTimeout: 10 * time.Second,
		},
		Conversation: ConversationConfig{
			MemoryWindow:  16,
			MaxToolRounds: 5,
			SessionMaxAge: 7 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8574",
		},
		Quote: QuoteConfig{
			BaseURL: "https://economia.awesomeapi.com.br",
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		DataDir: dataDir,
	}
}
