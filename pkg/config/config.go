package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Providers ProvidersConfig `json:"providers"`
	Memory    MemoryConfig    `json:"memory"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Log       LogConfig       `json:"log"`
}

type AgentConfig struct {
	Name     string `json:"name" env:"AKI_AGENT_NAME"`
	Timezone string `json:"timezone" env:"AKI_TIMEZONE"`
	DBPath   string `json:"db_path" env:"AKI_DB_PATH"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
}

type ProviderConfig struct {
	APIKey       string `json:"api_key" env:"AKI_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase      string `json:"api_base" env:"AKI_PROVIDERS_OPENROUTER_API_BASE"`
	Model        string `json:"model" env:"AKI_PROVIDERS_OPENROUTER_MODEL"`
	SummaryModel string `json:"summary_model" env:"AKI_PROVIDERS_OPENROUTER_SUMMARY_MODEL"`
	MaxTokens    int    `json:"max_tokens" env:"AKI_PROVIDERS_OPENROUTER_MAX_TOKENS"`
	TimeoutSecs  int    `json:"timeout_seconds" env:"AKI_PROVIDERS_OPENROUTER_TIMEOUT_SECONDS"`
}

type MemoryConfig struct {
	// ConversationContextLimit caps the live conversation tail.
	ConversationContextLimit int `json:"conversation_context_limit" env:"CONVERSATION_CONTEXT_LIMIT"`
	// CompactSummaryLimit is how many compact summaries enter the context.
	CompactSummaryLimit int `json:"compact_summary_limit" env:"COMPACT_SUMMARY_LIMIT"`
	// MemoryEntryLimit is how many standalone diary entries enter the context.
	MemoryEntryLimit int `json:"memory_entry_limit" env:"MEMORY_ENTRY_LIMIT"`
	// CompactInterval is how many uncompacted turns trigger compaction.
	CompactInterval int `json:"compact_interval" env:"COMPACT_INTERVAL"`
	// DiaryFetchLimit caps raw diary reads before type filtering.
	DiaryFetchLimit int `json:"diary_fetch_limit" env:"DIARY_FETCH_LIMIT"`
	// ContextWindow is how many recent turns feed a compaction transcript.
	ContextWindow int `json:"context_window" env:"AKI_MEMORY_CONTEXT_WINDOW"`
}

type SchedulerConfig struct {
	Cron  string `json:"cron" env:"AKI_SCHEDULER_CRON"`
	Batch int    `json:"batch" env:"AKI_SCHEDULER_BATCH"`
}

type RetrievalConfig struct {
	Enabled bool   `json:"enabled" env:"AKI_RETRIEVAL_ENABLED"`
	Path    string `json:"path" env:"AKI_RETRIEVAL_PATH"`
}

type LogConfig struct {
	Level  string `json:"level" env:"AKI_LOG_LEVEL"`
	Pretty bool   `json:"pretty" env:"AKI_LOG_PRETTY"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:     "aki",
			Timezone: "America/Toronto",
			DBPath:   "~/.aki/memory.db",
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{
				APIBase:      "https://openrouter.ai/api/v1",
				Model:        "anthropic/claude-sonnet-4",
				SummaryModel: "openai/gpt-4o-mini",
				MaxTokens:    2048,
				TimeoutSecs:  60,
			},
		},
		Memory: MemoryConfig{
			ConversationContextLimit: 20,
			CompactSummaryLimit:      2,
			MemoryEntryLimit:         2,
			CompactInterval:          10,
			DiaryFetchLimit:          10,
			ContextWindow:            20,
		},
		Scheduler: SchedulerConfig{
			Cron:  "*/5 * * * *",
			Batch: 20,
		},
		Retrieval: RetrievalConfig{
			Enabled: false,
			Path:    "",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects limits outside their supported ranges. Misconfiguration
// fails fast at startup rather than surfacing as odd context shapes later.
func (c *Config) Validate() error {
	m := c.Memory
	if m.ConversationContextLimit < 1 {
		return fmt.Errorf("conversation_context_limit must be >= 1, got %d", m.ConversationContextLimit)
	}
	if m.CompactSummaryLimit < 1 || m.CompactSummaryLimit > 10 {
		return fmt.Errorf("compact_summary_limit must be in [1, 10], got %d", m.CompactSummaryLimit)
	}
	if m.MemoryEntryLimit < 1 || m.MemoryEntryLimit > 10 {
		return fmt.Errorf("memory_entry_limit must be in [1, 10], got %d", m.MemoryEntryLimit)
	}
	if m.CompactInterval < 1 {
		return fmt.Errorf("compact_interval must be >= 1, got %d", m.CompactInterval)
	}
	if m.DiaryFetchLimit < 5 || m.DiaryFetchLimit > 50 {
		return fmt.Errorf("diary_fetch_limit must be in [5, 50], got %d", m.DiaryFetchLimit)
	}
	if m.ContextWindow < 1 {
		return fmt.Errorf("context_window must be >= 1, got %d", m.ContextWindow)
	}

	if !gronx.New().IsValid(c.Scheduler.Cron) {
		return fmt.Errorf("invalid scheduler cron expression %q", c.Scheduler.Cron)
	}

	if _, err := time.LoadLocation(c.Agent.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Agent.Timezone, err)
	}
	return nil
}

// Location resolves the configured timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Agent.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DBFile returns the database path with ~ expanded.
func (c *Config) DBFile() string {
	return expandHome(c.Agent.DBPath)
}

// RetrievalDir returns the retrieval store path with ~ expanded, empty when
// retrieval is disabled or in-memory.
func (c *Config) RetrievalDir() string {
	return expandHome(c.Retrieval.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
