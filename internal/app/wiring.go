package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IReaderorg/IReader-sub034/internal/config"
	"github.com/IReaderorg/IReader-sub034/internal/content"
	"github.com/IReaderorg/IReader-sub034/internal/engines"
	"github.com/IReaderorg/IReader-sub034/internal/httpapi"
	"github.com/IReaderorg/IReader-sub034/internal/storage"
	"github.com/IReaderorg/IReader-sub034/internal/task/batch"
	"github.com/IReaderorg/IReader-sub034/internal/task/trigger"
	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:      c.Level,
		Console:    c.Console,
		Format:     c.Format,
		File:       logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
		Components: c.Components,
	}
}

func mapStorage(c config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", c.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:        strings.TrimSpace(c.Path),
		BusyTimeout: busy,
	}, nil
}

// mapTranslation returns the scheduler config and the classifier for the
// translation section.
func mapTranslation(c config.TranslationConfig) (batch.Config, *engines.Classifier, error) {
	tr, err := c.Resolve()
	if err != nil {
		return batch.Config{}, nil, err
	}
	return batch.Config{
		RateLimitDelay:         tr.RateLimitDelay,
		WarningThreshold:       tr.WarningThreshold,
		BypassWarningByDefault: tr.BypassWarningByDefault,
	}, engines.NewClassifier(tr.OfflineEngines, tr.RateLimitedEngines), nil
}

// registerEngines adds the configured chat backends to reg. An api_key_env
// that is set wins over api_key.
func registerEngines(reg *engines.Registry, cs []config.EngineConfig, log logx.Logger) error {
	for i, c := range cs {
		timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("engines[%d].timeout", i), c.Timeout, engines.DefaultChatTimeout)
		if err != nil {
			return err
		}
		key := c.APIKey
		if env := strings.TrimSpace(c.APIKeyEnv); env != "" {
			if v := os.Getenv(env); v != "" {
				key = v
			}
		}
		retries := engines.DefaultChatMaxRetries
		if c.MaxRetries != nil {
			retries = *c.MaxRetries
		}
		id := engines.NormalizeID(c.ID)
		cc := engines.ChatConfig{
			BaseURL:     c.BaseURL,
			Model:       c.Model,
			APIKey:      key,
			Temperature: c.Temperature,
			Timeout:     timeout,
			MaxRetries:  retries,
			ChunkSize:   c.ChunkSize,
			MaxTokens:   c.MaxTokens,
		}
		switch c.EngineAPI() {
		case config.EngineAPIAnthropic:
			reg.Register(id, engines.NewAnthropic(cc, nil))
		default:
			reg.Register(id, engines.NewChat(cc, nil, log.With(logx.String("engine", id))))
		}
	}
	return nil
}

func mapContent(c config.ContentConfig) (content.Config, error) {
	timeout, err := config.ParseDurationOrDefault("content.timeout", c.Timeout, content.DefaultTimeout)
	if err != nil {
		return content.Config{}, err
	}
	return content.Config{UserAgent: c.UserAgent, Timeout: timeout, Selector: c.Selector}, nil
}

func mapHTTP(c config.HTTPConfig) (httpapi.Config, error) {
	shutdown, err := config.ParseDurationOrDefault("http.shutdown_timeout", c.ShutdownTimeout, httpapi.DefaultShutdownTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:            c.Addr,
		ShutdownTimeout: shutdown,
		Pprof:           c.Pprof,
		PprofToken:      c.PprofToken,
	}, nil
}

// mapTriggers drops disabled triggers.
func mapTriggers(cs []config.TriggerConfig) []trigger.Trigger {
	out := make([]trigger.Trigger, 0, len(cs))
	for _, c := range cs {
		if !c.IsEnabled() {
			continue
		}
		out = append(out, trigger.Trigger{
			Name:             c.Name,
			Schedule:         c.Schedule,
			BookID:           c.BookID,
			ChapterIDs:       c.ChapterIDs,
			SourceLang:       c.Source,
			TargetLang:       c.Target,
			EngineID:         c.Engine,
			OnlyUntranslated: c.OnlyUntranslated,
		})
	}
	return out
}
