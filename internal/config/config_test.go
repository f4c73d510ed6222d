package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 16, cfg.Memory.BufferLimit)
	assert.Equal(t, 10, cfg.Memory.MigrateCount)
	assert.Equal(t, 3, cfg.Memory.MigrateRetries)
	assert.Equal(t, 5, cfg.Policy.MaxIterations)
	assert.Equal(t, "gemini", cfg.LLM.Provider)

	tick, err := cfg.Automation.PollTickDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, tick)
	cooldown, err := cfg.Automation.ErrorCooldownDuration()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cooldown)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Memory, cfg.Memory)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sociagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  model: gpt-4o-mini
memory:
  buffer_limit: 32
  migrate_count: 20
automation:
  min_interval: 1m
  max_interval: 2m
server:
  addr: ":9999"
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 32, cfg.Memory.BufferLimit)
	assert.Equal(t, 20, cfg.Memory.MigrateCount)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Memory.MigrateRetries)
	assert.Equal(t, 5, cfg.Policy.MaxIterations)

	min, err := cfg.Automation.MinIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, min)
}

func TestLoad_EnvOverridesApiKeyAndAddr(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("SOCIAGENT_ADDR", ":7777")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "key-from-env", cfg.Embedding.APIKey)
	assert.Equal(t, ":7777", cfg.Server.Addr)
}

func TestLoad_FileApiKeyWinsOverEnv(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	path := filepath.Join(t.TempDir(), "sociagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  api_key: file-key\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buffer limit", func(c *Config) { c.Memory.BufferLimit = 0 }},
		{"migrate count above limit", func(c *Config) { c.Memory.MigrateCount = 99 }},
		{"zero max iterations", func(c *Config) { c.Policy.MaxIterations = 0 }},
		{"bad min interval", func(c *Config) { c.Automation.MinInterval = "soon" }},
		{"max below min", func(c *Config) {
			c.Automation.MinInterval = "10m"
			c.Automation.MaxInterval = "1m"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestDurationHelpers_EmptyUsesDefault(t *testing.T) {
	var l LLMConfig
	d, err := l.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	var s SocialConfig
	d, err = s.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	bad := LLMConfig{Timeout: "four minutes"}
	_, err = bad.TimeoutDuration()
	require.Error(t, err)
}
