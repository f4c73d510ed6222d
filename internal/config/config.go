package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sociagent configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Episodic memory configuration
	Memory MemoryConfig `yaml:"memory"`

	// Action policy configuration
	Policy PolicyConfig `yaml:"policy"`

	// Automation worker configuration
	Automation AutomationConfig `yaml:"automation"`

	// SQLite store configuration
	Store StoreConfig `yaml:"store"`

	// Outbound social platform API
	Social SocialConfig `yaml:"social"`

	// HTTP trigger surface
	Server ServerConfig `yaml:"server"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generation/evaluation LLM provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine used for long-term memory.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // genai, ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // ollama only
}

// MemoryConfig configures the episodic buffer and its migration trigger.
type MemoryConfig struct {
	// BufferLimit is the per-correspondent record count that triggers migration.
	BufferLimit int `yaml:"buffer_limit"`
	// MigrateCount is how many oldest records migrate to long-term storage.
	MigrateCount int `yaml:"migrate_count"`
	// MigrateRetries bounds migration attempts before records are retained.
	MigrateRetries int `yaml:"migrate_retries"`
}

// PolicyConfig configures the decision cycle.
type PolicyConfig struct {
	// MaxIterations bounds policy decisions per cycle.
	MaxIterations int `yaml:"max_iterations"`
}

// AutomationConfig configures the per-account automation workers.
type AutomationConfig struct {
	MinInterval  string `yaml:"min_interval"`  // lower bound of inter-cycle sleep
	MaxInterval  string `yaml:"max_interval"`  // upper bound of inter-cycle sleep
	PollTick     string `yaml:"poll_tick"`     // cancellation check granularity
	ErrorCooldown string `yaml:"error_cooldown"` // backoff after a failed cycle
	StopTimeout  string `yaml:"stop_timeout"`  // max wait for a worker to exit
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SocialConfig configures the outbound action/inbox collaborator.
type SocialConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// ServerConfig configures the HTTP trigger surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name:    "sociagent",
		Version: "1.0.0",
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "2m",
		},
		Embedding: EmbeddingConfig{
			Provider: "genai",
			Model:    "gemini-embedding-001",
		},
		Memory: MemoryConfig{
			BufferLimit:    16,
			MigrateCount:   10,
			MigrateRetries: 3,
		},
		Policy: PolicyConfig{
			MaxIterations: 5,
		},
		Automation: AutomationConfig{
			MinInterval:   "5m",
			MaxInterval:   "15m",
			PollTick:      "30s",
			ErrorCooldown: "60s",
			StopTimeout:   "10s",
		},
		Store: StoreConfig{
			DatabasePath: ".sociagent/sociagent.db",
		},
		Social: SocialConfig{
			BaseURL: "http://localhost:8100",
			Timeout: "30s",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for
// unset fields and environment overrides for secrets.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file = defaults + env
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides fills API keys from the environment when the file
// does not set them. Env vars win over empty config values only.
func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		default:
			cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if addr := os.Getenv("SOCIAGENT_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
}

// Validate checks invariants that would otherwise surface as runtime faults.
func (c *Config) Validate() error {
	if c.Memory.BufferLimit <= 0 {
		return fmt.Errorf("memory.buffer_limit must be positive, got %d", c.Memory.BufferLimit)
	}
	if c.Memory.MigrateCount <= 0 || c.Memory.MigrateCount > c.Memory.BufferLimit {
		return fmt.Errorf("memory.migrate_count must be in (0, buffer_limit], got %d", c.Memory.MigrateCount)
	}
	if c.Policy.MaxIterations <= 0 {
		return fmt.Errorf("policy.max_iterations must be positive, got %d", c.Policy.MaxIterations)
	}
	min, err := c.Automation.MinIntervalDuration()
	if err != nil {
		return fmt.Errorf("automation.min_interval: %w", err)
	}
	max, err := c.Automation.MaxIntervalDuration()
	if err != nil {
		return fmt.Errorf("automation.max_interval: %w", err)
	}
	if max < min {
		return fmt.Errorf("automation.max_interval (%v) must be >= min_interval (%v)", max, min)
	}
	return nil
}

// parseDuration parses a duration string, returning def when empty.
func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// TimeoutDuration returns the parsed LLM call timeout.
func (c LLMConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(c.Timeout, 2*time.Minute)
}

// TimeoutDuration returns the parsed social API call timeout.
func (c SocialConfig) TimeoutDuration() (time.Duration, error) {
	return parseDuration(c.Timeout, 30*time.Second)
}

// MinIntervalDuration returns the parsed minimum inter-cycle sleep.
func (c AutomationConfig) MinIntervalDuration() (time.Duration, error) {
	return parseDuration(c.MinInterval, 5*time.Minute)
}

// MaxIntervalDuration returns the parsed maximum inter-cycle sleep.
func (c AutomationConfig) MaxIntervalDuration() (time.Duration, error) {
	return parseDuration(c.MaxInterval, 15*time.Minute)
}

// PollTickDuration returns the parsed cancellation check granularity.
func (c AutomationConfig) PollTickDuration() (time.Duration, error) {
	return parseDuration(c.PollTick, 30*time.Second)
}

// ErrorCooldownDuration returns the parsed post-failure backoff.
func (c AutomationConfig) ErrorCooldownDuration() (time.Duration, error) {
	return parseDuration(c.ErrorCooldown, 60*time.Second)
}

// StopTimeoutDuration returns the parsed worker stop wait bound.
func (c AutomationConfig) StopTimeoutDuration() (time.Duration, error) {
	return parseDuration(c.StopTimeout, 10*time.Second)
}
