package logx

import (
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelTrace = zerolog.TraceLevel
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ComponentKey is the field Named writes.
const ComponentKey = "comp"

// Logger is a value type; copies are cheap and the zero value discards
// everything. A Logger obtained from a Service follows its Apply calls.
type Logger struct {
	src    source
	comp   string
	fields []Field
}

// source resolves the sink and the minimum level for a component at the
// moment of logging.
type source interface {
	sink(comp string) (zerolog.Logger, Level)
}

type fixed struct {
	zl        zerolog.Logger
	threshold Level
}

func (f fixed) sink(string) (zerolog.Logger, Level) { return f.zl, f.threshold }

// Nop returns a logger that writes nothing.
func Nop() Logger {
	return Logger{src: fixed{zl: zerolog.Nop(), threshold: zerolog.Disabled}}
}

// NewConsole writes human-readable lines to stderr. The CLI uses it before a
// config file has been read.
func NewConsole(level string) Logger {
	setGlobals()
	lvl, _ := ParseLevel(level)
	return Logger{src: fixed{zl: build(consoleWriter(Stderr()), lvl), threshold: lvl}}
}

// NewWriter writes JSON lines to w.
func NewWriter(w io.Writer, level string) Logger {
	setGlobals()
	lvl, _ := ParseLevel(level)
	return Logger{src: fixed{zl: build(w, lvl), threshold: lvl}}
}

func (l Logger) IsZero() bool { return l.src == nil && l.comp == "" && len(l.fields) == 0 }

// Enabled reports whether an event at level would be written.
func (l Logger) Enabled(level Level) bool {
	if l.src == nil {
		return false
	}
	_, threshold := l.src.sink(l.comp)
	return level >= threshold && threshold != zerolog.Disabled
}

// With returns a logger that adds fields to every event.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	out := l
	out.fields = make([]Field, 0, len(l.fields)+len(fields))
	out.fields = append(append(out.fields, l.fields...), fields...)
	return out
}

// Named tags the logger with a component. Per-component levels from
// Config.Components are looked up by this name.
func (l Logger) Named(comp string) Logger {
	out := l.With(String(ComponentKey, comp))
	out.comp = strings.ToLower(strings.TrimSpace(comp))
	return out
}

func (l Logger) Trace(msg string, fields ...Field) { l.emit(LevelTrace, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, fields) }

func (l Logger) emit(level Level, msg string, fields []Field) {
	if l.src == nil {
		return
	}
	zl, threshold := l.src.sink(l.comp)
	if threshold == zerolog.Disabled || level < threshold {
		return
	}
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	// Skip emit and the level method.
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	apply(e, l.fields, fields)
	e.Msg(msg)
}

// ParseLevel maps a config level name to a Level. Unknown or empty names
// yield info and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "off", "disabled", "none":
		return zerolog.Disabled, true
	}
	return LevelInfo, false
}
