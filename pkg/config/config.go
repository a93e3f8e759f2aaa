// Package config holds the engine configuration: tier targets,
// capability routing, failure thresholds, rate limits, and verification
// settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/tiergate/pkg/backend"
)

// keysFile represents the structure of ~/.tiergate/config.yaml.
type keysFile struct {
	APIKeys struct {
		Anthropic string `yaml:"anthropic"`
		OpenAI    string `yaml:"openai"`
		Google    string `yaml:"google"`
		DeepSeek  string `yaml:"deepseek"`
	} `yaml:"api_keys"`
}

// Load reads configuration from the user config directory and the
// environment. Environment variables take precedence over file
// configuration for API keys.
func Load() (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	var cfg *Config
	routingPath := filepath.Join(dir, "routing.yaml")
	if _, err := os.Stat(routingPath); err == nil {
		cfg, err = LoadRoutingFile(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config: %w", err)
		}
	} else {
		cfg = Default()
	}

	cfg.ConfigDir = dir
	loadKeys(cfg, filepath.Join(dir, "config.yaml"))
	return cfg, nil
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	dir, err := configDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	cfg, err := LoadRoutingFile(routingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
	}

	cfg.ConfigDir = dir
	loadKeys(cfg, filepath.Join(dir, "config.yaml"))
	return cfg, nil
}

// loadKeys fills API keys from the keys file and environment; env wins.
func loadKeys(cfg *Config, path string) {
	var keys keysFile
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &keys) // Ignore parse errors, use defaults
	}

	cfg.AnthropicAPIKey = getEnvOrDefault("ANTHROPIC_API_KEY", keys.APIKeys.Anthropic)
	cfg.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", keys.APIKeys.OpenAI)
	cfg.GoogleAPIKey = getEnvOrDefault("GOOGLE_API_KEY", keys.APIKeys.Google)
	cfg.DeepSeekAPIKey = getEnvOrDefault("DEEPSEEK_API_KEY", keys.APIKeys.DeepSeek)
}

// HasProvider returns true if the API key for the given provider is
// configured. The mock provider needs no key.
func (c *Config) HasProvider(p backend.Provider) bool {
	switch p {
	case backend.ProviderAnthropic:
		return c.AnthropicAPIKey != ""
	case backend.ProviderOpenAI:
		return c.OpenAIAPIKey != ""
	case backend.ProviderGoogle:
		return c.GoogleAPIKey != ""
	case backend.ProviderDeepSeek:
		return c.DeepSeekAPIKey != ""
	case backend.ProviderMock:
		return true
	default:
		return false
	}
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tiergate")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}
