package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/engines"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const (
	DefaultRateLimitDelay   = 3 * time.Second
	DefaultWarningThreshold = 10
	DefaultHTTPAddr         = "127.0.0.1:8088"
	DefaultStoragePath      = "./data/library.db"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Driver: "sqlite", Path: DefaultStoragePath},
		HTTP:    HTTPConfig{Enabled: true, Addr: DefaultHTTPAddr},
	}
}

// Translation is the parsed translation section.
type Translation struct {
	RateLimitDelay         time.Duration
	WarningThreshold       int
	BypassWarningByDefault bool
	OfflineEngines         []string
	RateLimitedEngines     []string
}

func (c TranslationConfig) Resolve() (Translation, error) {
	d, err := ParseDurationOrDefault("translation.rate_limit_delay", c.RateLimitDelay, DefaultRateLimitDelay)
	if err != nil {
		return Translation{}, err
	}
	threshold := DefaultWarningThreshold
	if c.WarningThreshold != nil {
		threshold = *c.WarningThreshold
	}
	if threshold < 0 {
		return Translation{}, errors.New("translation.warning_threshold: must be >= 0")
	}
	return Translation{
		RateLimitDelay:         d,
		WarningThreshold:       threshold,
		BypassWarningByDefault: c.BypassWarningByDefault,
		OfflineEngines:         c.OfflineEngines,
		RateLimitedEngines:     c.RateLimitedEngines,
	}, nil
}

// Validate checks everything that can be checked without other packages.
// Cron expressions are validated by the trigger service.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := validateLogging(cfg.Logging); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "", "none":
		errs = append(errs, errors.New("storage.driver is required (sqlite or file)"))
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Translation.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("content.timeout", cfg.Content.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	errs = append(errs, validateEngines(cfg.Engines)...)

	names := map[string]struct{}{}
	for i, t := range cfg.Triggers {
		path := fmt.Sprintf("triggers[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", path))
		} else if _, dup := names[t.Name]; dup {
			errs = append(errs, fmt.Errorf("%s.name %q is duplicated", path, t.Name))
		}
		names[t.Name] = struct{}{}
		if strings.TrimSpace(t.Schedule) == "" {
			errs = append(errs, fmt.Errorf("%s.schedule is required", path))
		}
		if t.BookID <= 0 {
			errs = append(errs, fmt.Errorf("%s.book_id is required", path))
		}
		if strings.TrimSpace(t.Target) == "" || strings.TrimSpace(t.Engine) == "" {
			errs = append(errs, fmt.Errorf("%s: target and engine are required", path))
		} else if _, err := engines.NormalizeLanguage(t.Target, false); err != nil {
			errs = append(errs, fmt.Errorf("%s.target: %w", path, err))
		}
		if _, err := engines.NormalizeLanguage(t.Source, true); err != nil {
			errs = append(errs, fmt.Errorf("%s.source: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

func validateLogging(c LoggingConfig) error {
	var errs []error
	if _, ok := logx.ParseLevel(c.Level); !ok && strings.TrimSpace(c.Level) != "" {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Level))
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "", logx.FormatPretty, logx.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format: must be %q or %q", logx.FormatPretty, logx.FormatJSON))
	}
	for comp, lvl := range c.Components {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.components.%s: unknown level %q", comp, lvl))
		}
	}
	return errors.Join(errs...)
}

func validateEngines(es []EngineConfig) []error {
	var errs []error
	ids := map[string]struct{}{}
	for i, e := range es {
		path := fmt.Sprintf("engines[%d]", i)
		id := engines.NormalizeID(e.ID)
		switch id {
		case "":
			errs = append(errs, fmt.Errorf("%s.id is required", path))
		case engines.EnginePseudo:
			errs = append(errs, fmt.Errorf("%s.id: %q is built in", path, id))
		}
		if _, dup := ids[id]; dup && id != "" {
			errs = append(errs, fmt.Errorf("%s.id %q is duplicated", path, id))
		}
		ids[id] = struct{}{}
		api := e.EngineAPI()
		if api != EngineAPIOpenAI && api != EngineAPIAnthropic {
			errs = append(errs, fmt.Errorf("%s.api: unknown %q (want openai or anthropic)", path, e.API))
		}
		base := strings.TrimSpace(e.BaseURL)
		if base != "" || api == EngineAPIOpenAI {
			if u, err := url.Parse(base); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("%s.base_url must be an http(s) URL", path))
			}
		}
		if strings.TrimSpace(e.Model) == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", path))
		}
		if _, err := ParseDurationField(path+".timeout", e.Timeout); err != nil {
			errs = append(errs, err)
		}
		if e.MaxRetries != nil && *e.MaxRetries < 0 {
			errs = append(errs, fmt.Errorf("%s.max_retries: must be >= 0", path))
		}
		if e.ChunkSize < 0 || e.Temperature < 0 || e.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("%s: chunk_size, temperature and max_tokens must be >= 0", path))
		}
	}
	return errs
}
