package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, falling back to defaults when the
// file does not exist. Environment variables prefixed CONCIERGE_ override
// file values (e.g. CONCIERGE_PROVIDER, CONCIERGE_DATA_DIR).
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".concierge", "concierge.json")
	}

	v := viper.New()
	v.SetEnvPrefix("CONCIERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		l.applyEnvOverrides(v, cfg)
		return cfg, nil
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.applyEnvOverrides(v, cfg)

	return cfg, nil
}

// applyEnvOverrides wires the env keys viper cannot bind automatically when
// no config file declares them.
func (l *Loader) applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if provider := v.GetString("provider"); provider != "" {
		cfg.Provider = provider
	}
	if key := v.GetString("api_key"); key != "" {
		cfg.APIKeys = append([]string{key}, cfg.APIKeys...)
	}
	if model := v.GetString("model"); model != "" {
		cfg.Models.Preferred = model
	}
	if dataDir := v.GetString("data_dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
}

// Save writes the configuration to disk as JSON.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".concierge", "concierge.json")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("provider", cfg.Provider)
	v.Set("models", cfg.Models)
	v.Set("api_keys", cfg.APIKeys)
	v.Set("generation", cfg.Generation)
	v.Set("conversation", cfg.Conversation)
	v.Set("server", cfg.Server)
	v.Set("quote", cfg.Quote)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
