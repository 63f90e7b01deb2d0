package config

import "strings"

// Config is the translatord configuration file.
//
// Durations are Go duration strings ("500ms", "3s", "1m") or a bare number
// of milliseconds.
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     StorageConfig     `json:"storage"`
	Translation TranslationConfig `json:"translation"`
	Engines     []EngineConfig    `json:"engines,omitempty"`
	Content     ContentConfig     `json:"content,omitempty"`
	HTTP        HTTPConfig        `json:"http,omitempty"`
	Triggers    []TriggerConfig   `json:"triggers,omitempty"`
}

// LoggingConfig selects log sinks and levels.
//
// Example:
//
//	"logging": {
//	  "level": "info", "console": true, "format": "json",
//	  "components": { "http": "warn", "pipeline": "debug" }
//	}
type LoggingConfig struct {
	Level      string            `json:"level"`
	Console    bool              `json:"console"`
	Format     string            `json:"format,omitempty"` // pretty | json
	File       LoggingFile       `json:"file"`
	Components map[string]string `json:"components,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the library store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/library.db" }
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite only
}

// TranslationConfig tunes the batch scheduler.
//
// Defaults (when fields are omitted):
//   - rate_limit_delay: "3s" (a bare number is milliseconds)
//   - warning_threshold: 10 (0 disables the warning)
//   - bypass_warning_by_default: false
type TranslationConfig struct {
	RateLimitDelay         Duration `json:"rate_limit_delay,omitempty"`
	WarningThreshold       *int     `json:"warning_threshold,omitempty"`
	BypassWarningByDefault bool     `json:"bypass_warning_by_default,omitempty"`

	// Extra engine ids merged into the built-in classification table.
	OfflineEngines     []string `json:"offline_engines,omitempty"`
	RateLimitedEngines []string `json:"rate_limited_engines,omitempty"`
}

// EngineConfig registers a chat backend under ID. API selects the wire
// protocol: "openai" (chat completions, the default) or "anthropic"
// (Messages API, base_url optional). Built-in ids (openai, deepseek, gemini, ollama, ...) keep their class;
// other ids are unclassified unless listed in translation.*_engines.
//
// Example:
//
//	"engines": [
//	  { "id": "openai", "base_url": "https://api.openai.com/v1",
//	    "model": "gpt-4o-mini", "api_key_env": "OPENAI_API_KEY" },
//	  { "id": "claude", "api": "anthropic", "model": "claude-sonnet-4-5",
//	    "api_key_env": "ANTHROPIC_API_KEY" }
//	]
type EngineConfig struct {
	ID          string   `json:"id"`
	API         string   `json:"api,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model"`
	APIKey      string   `json:"api_key,omitempty"`
	APIKeyEnv   string   `json:"api_key_env,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	Timeout     Duration `json:"timeout,omitempty"`
	MaxRetries  *int     `json:"max_retries,omitempty"`
	ChunkSize   int      `json:"chunk_size,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

const (
	EngineAPIOpenAI    = "openai"
	EngineAPIAnthropic = "anthropic"
)

// EngineAPI returns the normalized protocol name, defaulting to openai.
func (e EngineConfig) EngineAPI() string {
	api := strings.ToLower(strings.TrimSpace(e.API))
	if api == "" {
		return EngineAPIOpenAI
	}
	return api
}

// ContentConfig controls chapter downloads.
type ContentConfig struct {
	UserAgent string   `json:"user_agent,omitempty"`
	Timeout   Duration `json:"timeout,omitempty"`
	// Selector is a comma separated list of candidate chapter containers.
	Selector string `json:"selector,omitempty"`
}

// HTTPConfig controls the control/observation API.
//
// Security note: there is no authentication; keep Addr on loopback unless a
// proxy in front of it handles that.
type HTTPConfig struct {
	Enabled         bool     `json:"enabled"`
	Addr            string   `json:"addr,omitempty"` // default: "127.0.0.1:8088"
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`
	Pprof           bool     `json:"pprof,omitempty"`
	PprofToken      string   `json:"pprof_token,omitempty"`
}

// TriggerConfig queues a batch on a cron schedule.
type TriggerConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	// Enabled is a pointer so an omitted field means enabled.
	Enabled *bool `json:"enabled,omitempty"`

	// ChapterIDs empty means every chapter of the book.
	BookID     int64   `json:"book_id"`
	ChapterIDs []int64 `json:"chapter_ids,omitempty"`

	Source           string `json:"source,omitempty"`
	Target           string `json:"target"`
	Engine           string `json:"engine"`
	OnlyUntranslated bool   `json:"only_untranslated,omitempty"`
}

func (t TriggerConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }
