package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "github.com/IReaderorg/IReader-sub034/pkg/logx"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file: { enabled: false, path: "" }
storage:
  driver: sqlite
  path: ./data/library.db
  busy_timeout: 2s
translation:
  rate_limit_delay: 1500ms
  warning_threshold: 0
  rate_limited_engines: [my-cloud]
http:
  enabled: true
  addr: 127.0.0.1:9000
triggers:
  - name: nightly
    schedule: "0 3 * * *"
    book_id: 7
    target: de
    engine: pseudo
    only_untranslated: true
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Fatalf("cfg = %+v", cfg)
	}
	tr, err := cfg.Translation.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if tr.RateLimitDelay != 1500*time.Millisecond || tr.WarningThreshold != 0 {
		t.Fatalf("translation = %+v", tr)
	}
	if len(cfg.Triggers) != 1 || !cfg.Triggers[0].IsEnabled() || cfg.Triggers[0].BookID != 7 {
		t.Fatalf("triggers = %+v", cfg.Triggers)
	}
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.json", []byte(`{"translation":{"rate_limit_delay":2500},"content":{"timeout":"45s"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tr, err := cfg.Translation.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if tr.RateLimitDelay != 2500*time.Millisecond {
		t.Fatalf("delay = %s", tr.RateLimitDelay)
	}
	if d, err := ParseDurationField("content.timeout", cfg.Content.Timeout); err != nil || d != 45*time.Second {
		t.Fatalf("timeout = %s, %v", d, err)
	}

	cases := []struct {
		raw  Duration
		want time.Duration
		err  bool
	}{
		{raw: "", want: 0},
		{raw: "0", want: 0},
		{raw: "750", want: 750 * time.Millisecond},
		{raw: "1m", want: time.Minute},
		{raw: "-1s", err: true},
		{raw: "-5", err: true},
		{raw: "soon", err: true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("x", tc.raw)
		if tc.err != (err != nil) || got != tc.want {
			t.Fatalf("%q: got %s, %v", tc.raw, got, err)
		}
	}
	if _, err := Decode("c.json", []byte(`{"translation":{"rate_limit_delay":true}}`)); err == nil {
		t.Fatal("bool duration accepted")
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.yaml", []byte("telegram: { token: x }\n")); err == nil {
		t.Fatal("unknown section accepted")
	}
	if _, err := Decode("c.json", []byte(`{"logging":{"level":"info"}} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestResolveDefaults(t *testing.T) {
	t.Parallel()
	tr, err := TranslationConfig{}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if tr.RateLimitDelay != DefaultRateLimitDelay || tr.WarningThreshold != DefaultWarningThreshold || tr.BypassWarningByDefault {
		t.Fatalf("defaults = %+v", tr)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	neg := -1
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{name: "default ok", mut: func(*Config) {}},
		{name: "no driver", mut: func(c *Config) { c.Storage.Driver = "" }, want: "storage.driver"},
		{name: "bad driver", mut: func(c *Config) { c.Storage.Driver = "mongo" }, want: "unknown driver"},
		{name: "bad log level", mut: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "bad log format", mut: func(c *Config) { c.Logging.Format = "xml" }, want: "logging.format"},
		{name: "bad component level", mut: func(c *Config) {
			c.Logging.Components = map[string]string{"http": "chatty"}
		}, want: "logging.components.http"},
		{name: "bad delay", mut: func(c *Config) { c.Translation.RateLimitDelay = "soon" }, want: "rate_limit_delay"},
		{name: "negative threshold", mut: func(c *Config) { c.Translation.WarningThreshold = &neg }, want: "warning_threshold"},
		{name: "trigger without book", mut: func(c *Config) {
			c.Triggers = []TriggerConfig{{Name: "a", Schedule: "@daily", Target: "de", Engine: "pseudo"}}
		}, want: "book_id"},
		{name: "trigger bad target", mut: func(c *Config) {
			c.Triggers = []TriggerConfig{{Name: "a", Schedule: "@daily", BookID: 1, Target: "not a tag!", Engine: "pseudo"}}
		}, want: "triggers[0].target"},
		{name: "trigger auto target", mut: func(c *Config) {
			c.Triggers = []TriggerConfig{{Name: "a", Schedule: "@daily", BookID: 1, Target: "auto", Engine: "pseudo"}}
		}, want: "triggers[0].target"},
		{name: "trigger non-canonical target ok", mut: func(c *Config) {
			c.Triggers = []TriggerConfig{{Name: "a", Schedule: "@daily", BookID: 1, Target: "pt_BR", Engine: "Pseudo"}}
		}},
		{name: "engine ok", mut: func(c *Config) {
			c.Engines = []EngineConfig{{ID: "openai", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Timeout: "90s"}}
		}},
		{name: "engine without url", mut: func(c *Config) {
			c.Engines = []EngineConfig{{ID: "openai", Model: "m"}}
		}, want: "engines[0].base_url"},
		{name: "anthropic engine without url", mut: func(c *Config) {
			c.Engines = []EngineConfig{{ID: "claude", API: "Anthropic", Model: "m", MaxTokens: 4096}}
		}},
		{name: "unknown engine api", mut: func(c *Config) {
			c.Engines = []EngineConfig{{ID: "x", API: "grpc", BaseURL: "http://x", Model: "m"}}
		}, want: "engines[0].api"},
		{name: "engine shadows pseudo", mut: func(c *Config) {
			c.Engines = []EngineConfig{{ID: "Pseudo", BaseURL: "http://x", Model: "m"}}
		}, want: "built in"},
		{name: "duplicate engine", mut: func(c *Config) {
			e := EngineConfig{ID: "ollama", BaseURL: "http://localhost:11434/v1", Model: "m"}
			c.Engines = []EngineConfig{e, e}
		}, want: "engines[1].id"},
		{name: "duplicate trigger", mut: func(c *Config) {
			tc := TriggerConfig{Name: "a", Schedule: "@daily", BookID: 1, Target: "de", Engine: "pseudo"}
			c.Triggers = []TriggerConfig{tc, tc}
		}, want: "duplicated"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mut(cfg)
			err := Validate(cfg)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	if ch := SummarizeConfigChange(a, b); !ch.Empty() {
		t.Fatalf("identical configs changed: %v", ch.Sections)
	}
	b.Translation.RateLimitDelay = "5s"
	b.HTTP.Addr = "0.0.0.0:1"
	ch := SummarizeConfigChange(a, b)
	if !ch.Has("translation") || !ch.Has("http") || ch.Has("logging") {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if len(ch.RestartRequired) != 1 || ch.RestartRequired[0] != "http" {
		t.Fatalf("restart required = %v", ch.RestartRequired)
	}
}

func TestManagerWatchPublishesReload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(level string) {
		body := `{"logging":{"level":"` + level + `","console":false,"file":{"enabled":false,"path":""}},` +
			`"storage":{"driver":"file","path":"` + filepath.ToSlash(filepath.Join(dir, "lib.json")) + `"},` +
			`"translation":{}}`
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("info")

	m := NewManager(path, logx.Nop())
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch, unsub := m.Subscribe(1)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the watcher register

	write("debug")
	select {
	case cfg := <-ch:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("level = %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	if m.Get().Logging.Level != "debug" {
		t.Fatal("reload not committed")
	}
}
