package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "aki", cfg.Agent.Name)
	assert.Equal(t, 20, cfg.Memory.ConversationContextLimit)
	assert.Equal(t, 2, cfg.Memory.CompactSummaryLimit)
	assert.Equal(t, 2, cfg.Memory.MemoryEntryLimit)
	assert.Equal(t, 10, cfg.Memory.CompactInterval)
	assert.Equal(t, 10, cfg.Memory.DiaryFetchLimit)
	assert.NotNil(t, cfg.Location())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Memory, cfg.Memory)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
  "agent": {"name": "kiwi", "timezone": "UTC"},
  "memory": {"compact_interval": 4}
}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "kiwi", cfg.Agent.Name)
	assert.Equal(t, "UTC", cfg.Agent.Timezone)
	assert.Equal(t, 4, cfg.Memory.CompactInterval)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, 20, cfg.Memory.ConversationContextLimit)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"memory": {"compact_interval": 4}}`), 0600))

	t.Setenv("COMPACT_INTERVAL", "7")
	t.Setenv("CONVERSATION_CONTEXT_LIMIT", "15")
	t.Setenv("AKI_AGENT_NAME", "env-aki")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Memory.CompactInterval)
	assert.Equal(t, 15, cfg.Memory.ConversationContextLimit)
	assert.Equal(t, "env-aki", cfg.Agent.Name)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero context limit", func(c *Config) { c.Memory.ConversationContextLimit = 0 }},
		{"summary limit too high", func(c *Config) { c.Memory.CompactSummaryLimit = 11 }},
		{"summary limit too low", func(c *Config) { c.Memory.CompactSummaryLimit = 0 }},
		{"entry limit too high", func(c *Config) { c.Memory.MemoryEntryLimit = 11 }},
		{"zero compact interval", func(c *Config) { c.Memory.CompactInterval = 0 }},
		{"fetch limit too low", func(c *Config) { c.Memory.DiaryFetchLimit = 4 }},
		{"fetch limit too high", func(c *Config) { c.Memory.DiaryFetchLimit = 51 }},
		{"zero context window", func(c *Config) { c.Memory.ContextWindow = 0 }},
		{"bad cron", func(c *Config) { c.Scheduler.Cron = "every five minutes" }},
		{"bad timezone", func(c *Config) { c.Agent.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Agent.Name = "roundtrip"
	cfg.Memory.CompactInterval = 6
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "roundtrip", loaded.Agent.Name)
	assert.Equal(t, 6, loaded.Memory.CompactInterval)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Agent.DBPath = "~/.aki/memory.db"
	assert.Equal(t, filepath.Join(home, ".aki", "memory.db"), cfg.DBFile())

	cfg.Agent.DBPath = "/var/lib/aki.db"
	assert.Equal(t, "/var/lib/aki.db", cfg.DBFile())

	cfg.Retrieval.Path = ""
	assert.Equal(t, "", cfg.RetrievalDir())
}
