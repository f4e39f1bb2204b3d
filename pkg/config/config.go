// Package config loads router configuration from ~/.taskrouter/config.yaml
// and the environment. Environment variables take precedence over the file
// and are re-read on every call through Live.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/taskrouter/pkg/adapter"
)

const (
	EnvRoutingMode       = "AI_ROUTING_MODE"
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvPerplexityKey     = "PERPLEXITY_API_KEY"
	EnvOpenAIModel       = "OPENAI_MODEL"
	EnvOpenAIVisionModel = "OPENAI_VISION_MODEL"
	EnvOpenAISearchModel = "OPENAI_SEARCH_MODEL"
	EnvPerplexityModel   = "PERPLEXITY_MODEL"
)

const (
	DefaultOpenAIModel       = "gpt-4o-mini"
	DefaultOpenAIVisionModel = "gpt-4o"
	DefaultOpenAISearchModel = "gpt-4o-mini-search-preview"
	DefaultPerplexityModel   = "sonar"
	DefaultServerAddr        = "127.0.0.1:9464"
)

// Config holds the application configuration.
type Config struct {
	ConfigDir string                              `yaml:"-"`
	Routing   RoutingConfig                       `yaml:"routing"`
	Providers map[adapter.Provider]ProviderConfig `yaml:"providers"`
	Models    *ModelAliases                       `yaml:"models,omitempty"`
	Log       LogConfig                           `yaml:"log"`
	Server    ServerConfig                        `yaml:"server"`
}

// ProviderConfig holds per-provider connection settings. API keys are
// never read from the file.
type ProviderConfig struct {
	BaseURL        string  `yaml:"base_url,omitempty"`
	Model          string  `yaml:"model,omitempty"`
	VisionModel    string  `yaml:"vision_model,omitempty"`
	SearchModel    string  `yaml:"search_model,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst int     `yaml:"rate_limit_burst,omitempty"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Load reads ~/.taskrouter/config.yaml when present and applies defaults.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		cfg, err = LoadFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		applyDefaults(cfg)
	}
	cfg.ConfigDir = configDir
	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	for name := range cfg.Providers {
		if _, err := adapter.ParseProvider(string(name)); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := cfg.Routing.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.ConfigDir = filepath.Dir(path)
	applyDefaults(&cfg)
	return &cfg, nil
}

// Provider returns the settings for p, with defaults applied.
func (c *Config) Provider(p adapter.Provider) ProviderConfig {
	if c == nil || c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[p]
}

// Live returns the per-call view of this configuration.
func (c *Config) Live() *Live {
	return &Live{cfg: c}
}

func applyDefaults(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[adapter.Provider]ProviderConfig)
	}
	openai := cfg.Providers[adapter.OpenAI]
	if openai.Model == "" {
		openai.Model = DefaultOpenAIModel
	}
	if openai.VisionModel == "" {
		openai.VisionModel = DefaultOpenAIVisionModel
	}
	if openai.SearchModel == "" {
		openai.SearchModel = DefaultOpenAISearchModel
	}
	cfg.Providers[adapter.OpenAI] = openai

	pplx := cfg.Providers[adapter.Perplexity]
	if pplx.Model == "" {
		pplx.Model = DefaultPerplexityModel
	}
	cfg.Providers[adapter.Perplexity] = pplx

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultServerAddr
	}
	applyRoutingDefaults(&cfg.Routing)
}

// Live reads routing mode, credentials and model ids on every call so
// environment changes apply to the next request without a restart.
type Live struct {
	cfg *Config
}

// RoutingMode returns AI_ROUTING_MODE, else the file value, else "dynamic".
func (l *Live) RoutingMode() string {
	mode := getEnvOrDefault(EnvRoutingMode, l.cfg.Routing.Mode)
	if mode == "" {
		return "dynamic"
	}
	return strings.ToLower(strings.TrimSpace(mode))
}

// APIKey returns the provider's key from the environment.
func (l *Live) APIKey(p adapter.Provider) string {
	switch p {
	case adapter.OpenAI:
		return strings.TrimSpace(os.Getenv(EnvOpenAIKey))
	case adapter.Perplexity:
		return strings.TrimSpace(os.Getenv(EnvPerplexityKey))
	default:
		return ""
	}
}

// Model returns the model id for a provider capability, resolving aliases.
func (l *Live) Model(p adapter.Provider, c adapter.Capability) string {
	pc := l.cfg.Provider(p)
	var model string
	switch p {
	case adapter.OpenAI:
		switch c {
		case adapter.CapabilityVision:
			model = getEnvOrDefault(EnvOpenAIVisionModel, pc.VisionModel)
		case adapter.CapabilitySearch:
			model = getEnvOrDefault(EnvOpenAISearchModel, pc.SearchModel)
		default:
			model = getEnvOrDefault(EnvOpenAIModel, pc.Model)
		}
	case adapter.Perplexity:
		model = getEnvOrDefault(EnvPerplexityModel, pc.Model)
	}
	return l.cfg.Models.Resolve(model)
}

// Configured reports whether the provider has a key in the environment.
func (l *Live) Configured(p adapter.Provider) bool {
	return l.APIKey(p) != ""
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".taskrouter")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}
