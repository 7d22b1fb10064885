// Package config loads the research assistant configuration from an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Providers supported for the model tiers.
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreMySQL  = "mysql"
	StoreRedis  = "redis"
)

// Config is the complete configuration of the service.
type Config struct {
	Planner  ModelConfig    `yaml:"planner"`
	Worker   ModelConfig    `yaml:"worker"`
	Research ResearchConfig `yaml:"research"`
	Search   SearchConfig   `yaml:"search"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ModelConfig configures one model tier.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`

	// MaxAttempts is the number of attempts per call. 1 disables retries.
	MaxAttempts int `yaml:"max_attempts"`

	// RequestsPerSecond paces calls of the tier. 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// AttemptTimeout bounds a single call. 0 means no bound.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// ResearchConfig bounds the research workflow.
type ResearchConfig struct {
	MaxAnalysts   int           `yaml:"max_analysts"`
	MaxTurns      int           `yaml:"max_turns"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	NodeTimeout   time.Duration `yaml:"node_timeout"`
}

// SearchConfig configures the retrieval backends.
type SearchConfig struct {
	TavilyAPIKey      string `yaml:"tavily_api_key"`
	TavilyEndpoint    string `yaml:"tavily_endpoint"`
	WikipediaEndpoint string `yaml:"wikipedia_endpoint"`
	MaxResults        int    `yaml:"max_results"`
	MaxAttempts       int    `yaml:"max_attempts"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	// DSN is the file path for sqlite, the data source name for mysql and
	// the redis URL for redis.
	DSN string `yaml:"dsn"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	CookieName    string `yaml:"cookie_name"`
	MaxSessions   int    `yaml:"max_sessions"`
	EnableTracing bool   `yaml:"enable_tracing"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Planner: ModelConfig{
			Provider:    ProviderGroq,
			Model:       "llama-3.3-70b-versatile",
			MaxAttempts: 1,
		},
		Worker: ModelConfig{
			Provider:          ProviderGroq,
			Model:             "meta-llama/llama-4-scout-17b-16e-instruct",
			MaxAttempts:       8,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Research: ResearchConfig{
			MaxAnalysts:   3,
			MaxTurns:      2,
			MaxConcurrent: 4,
		},
		Search: SearchConfig{
			MaxResults:  3,
			MaxAttempts: 3,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
			DSN:    "research.db",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			CookieName:  "research_session",
			MaxSessions: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (skipped
// when path is empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// providerKeyEnv names the API key variable of each provider.
var providerKeyEnv = map[string]string{
	ProviderGroq:      "GROQ_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

// ApplyEnv fills secrets and deployment settings from the environment.
// Keys already set in the file win; RESEARCH_* variables override the file.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for _, m := range []*ModelConfig{&c.Planner, &c.Worker} {
		if m.APIKey != "" {
			continue
		}
		if v, ok := lookup(providerKeyEnv[m.Provider]); ok {
			m.APIKey = v
		}
	}
	if v, ok := lookup("TAVILY_API_KEY"); ok && c.Search.TavilyAPIKey == "" {
		c.Search.TavilyAPIKey = v
	}

	overrides := map[string]*string{
		"RESEARCH_STORE_DRIVER": &c.Store.Driver,
		"RESEARCH_STORE_DSN":    &c.Store.DSN,
		"RESEARCH_ADDR":         &c.Server.Addr,
		"RESEARCH_LOG_LEVEL":    &c.Log.Level,
		"RESEARCH_LOG_FORMAT":   &c.Log.Format,
	}
	for name, field := range overrides {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	errs = append(errs, c.Planner.validate("planner")...)
	errs = append(errs, c.Worker.validate("worker")...)

	if c.Search.TavilyAPIKey == "" {
		errs = append(errs, errors.New("search: TAVILY_API_KEY is missing"))
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, errors.New("search: max_results must be at least 1"))
	}
	if c.Research.MaxAnalysts < 1 {
		errs = append(errs, errors.New("research: max_analysts must be at least 1"))
	}
	if c.Research.MaxTurns < 1 {
		errs = append(errs, errors.New("research: max_turns must be at least 1"))
	}
	if c.Research.MaxConcurrent < 0 || c.Research.NodeTimeout < 0 {
		errs = append(errs, errors.New("research: max_concurrent and node_timeout cannot be negative"))
	}

	if c.Server.MaxSessions < 1 {
		errs = append(errs, errors.New("server: max_sessions must be at least 1"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StoreMySQL, StoreRedis:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store: dsn is required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log: format must be text or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

func (m ModelConfig) validate(tier string) []error {
	var errs []error
	env, known := providerKeyEnv[m.Provider]
	if !known {
		errs = append(errs, fmt.Errorf("%s: unknown provider %q", tier, m.Provider))
	} else if m.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s: %s is missing", tier, env))
	}
	if m.Model == "" {
		errs = append(errs, fmt.Errorf("%s: model is required", tier))
	}
	if m.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("%s: max_attempts must be at least 1", tier))
	}
	if m.RequestsPerSecond < 0 || m.AttemptTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s: requests_per_second and attempt_timeout cannot be negative", tier))
	}
	return errs
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log: invalid level %q", l.Level)
	}
	return level, nil
}
