package config

import (
	"reflect"
	"strings"

	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

// Change lists the sections that differ between two configs.
type Change struct {
	Sections []string
	// RestartRequired names changed sections that are only read at startup.
	RestartRequired []string
	Attrs           []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section and returns
// safe structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		ch.Sections = append(ch.Sections, "logging")
		ch.Attrs = append(ch.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Int("logging.component_overrides", len(newCfg.Logging.Components)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Translation, newCfg.Translation) {
		ch.Sections = append(ch.Sections, "translation")
		ch.Attrs = append(ch.Attrs,
			logx.String("translation.rate_limit_delay", strings.TrimSpace(string(newCfg.Translation.RateLimitDelay))),
			logx.Bool("translation.bypass_warning_by_default", newCfg.Translation.BypassWarningByDefault),
			logx.Int("translation.extra_offline", len(newCfg.Translation.OfflineEngines)),
			logx.Int("translation.extra_rate_limited", len(newCfg.Translation.RateLimitedEngines)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Triggers, newCfg.Triggers) {
		ch.Sections = append(ch.Sections, "triggers")
		ch.Attrs = append(ch.Attrs, logx.Int("triggers.count", len(newCfg.Triggers)))
	}

	if !reflect.DeepEqual(oldCfg.Engines, newCfg.Engines) {
		ch.Sections = append(ch.Sections, "engines")
		ch.RestartRequired = append(ch.RestartRequired, "engines")
	}
	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		ch.Sections = append(ch.Sections, "content")
		ch.RestartRequired = append(ch.RestartRequired, "content")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		ch.Sections = append(ch.Sections, "http")
		ch.RestartRequired = append(ch.RestartRequired, "http")
	}
	return ch
}
