package logx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	timeFormat      = "2006-01-02T15:04:05.000Z07:00"
	defaultFilePath = "./translatord.log"

	FormatPretty = "pretty"
	FormatJSON   = "json"
)

type Config struct {
	Level string
	// Console enables stdout. Format picks "pretty" (default) or "json";
	// json suits the systemd journal.
	Console bool
	Format  string
	File    FileConfig
	// Components overrides Level per Named component, e.g. {"http": "warn"}.
	Components map[string]string
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks and swaps them on Apply. Loggers derived from it
// pick up the new state on their next event.
type Service struct {
	mu    sync.Mutex
	file  *os.File
	state atomic.Pointer[state]
}

type state struct {
	zl        zerolog.Logger
	threshold Level
	levels    map[string]Level
}

func (s *Service) sink(comp string) (zerolog.Logger, Level) {
	st := s.state.Load()
	if st == nil {
		return zerolog.Nop(), zerolog.Disabled
	}
	if lvl, ok := st.levels[comp]; ok && comp != "" {
		return st.zl, lvl
	}
	return st.zl, st.threshold
}

// New builds a Service from cfg and returns it with its root logger.
func New(cfg Config) (*Service, Logger) {
	setGlobals()
	s := &Service{}
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(Stderr(), "logx: %v\n", err)
	}
	return s, s.Logger()
}

func (s *Service) Logger() Logger { return Logger{src: s} }

// Apply replaces sinks and levels. A file that cannot be opened is reported
// and skipped; the remaining sinks still take effect.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	threshold, ok := ParseLevel(cfg.Level)
	if !ok && strings.TrimSpace(cfg.Level) != "" {
		errs = append(errs, fmt.Errorf("unknown level %q, using info", cfg.Level))
	}
	levels := make(map[string]Level, len(cfg.Components))
	floor := threshold
	for comp, name := range cfg.Components {
		lvl, ok := ParseLevel(name)
		if !ok {
			errs = append(errs, fmt.Errorf("component %q: unknown level %q", comp, name))
			continue
		}
		levels[strings.ToLower(strings.TrimSpace(comp))] = lvl
		if lvl < floor {
			floor = lvl
		}
	}

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, stdoutWriter(cfg.Format))
	}
	var file *os.File
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			errs = append(errs, fmt.Errorf("open log file: %w", err))
		} else {
			file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, stdoutWriter(cfg.Format))
	}

	s.state.Store(&state{
		zl:        build(zerolog.MultiLevelWriter(sinks...), floor),
		threshold: threshold,
		levels:    levels,
	})
	old := s.file
	s.file = file
	if old != nil {
		_ = old.Close()
	}
	return errors.Join(errs...)
}

// Close releases the log file, if any. Later events go to the other sinks.
func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func build(w io.Writer, lvl Level) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

var globalsOnce sync.Once

func setGlobals() {
	globalsOnce.Do(func() {
		zerolog.TimeFieldFormat = timeFormat
		zerolog.ErrorFieldName = "err"
	})
}

func stdoutWriter(format string) io.Writer {
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		return Stdout()
	}
	return consoleWriter(Stdout())
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// Stdout and Stderr are the process streams the console sinks write to.
func Stdout() io.Writer { return os.Stdout }
func Stderr() io.Writer { return os.Stderr }
