package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
)

func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a flag/config value onto a LogLevel. Unknown values fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// slog has no TRACE or CRITICAL, so they sit one step outside DEBUG and ERROR.
const (
	slogTrace    = slog.LevelDebug - 4
	slogCritical = slog.LevelError + 4
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case TRACE:
		return slogTrace
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	case CRITICAL:
		return slogCritical
	default:
		return slog.LevelInfo
	}
}

func levelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl <= slogTrace:
		a.Value = slog.StringValue(TRACE.String())
	case lvl >= slogCritical:
		a.Value = slog.StringValue(CRITICAL.String())
	}
	return a
}

// Logger is a leveled printf-style logger backed by slog handlers.
// Loggers derived with With share the level and the underlying file.
type Logger struct {
	mu    *sync.Mutex
	level *slog.LevelVar
	file  *os.File
	sl    *slog.Logger
}

// NewFileLogger appends records to filePath, optionally echoing them to stdout.
func NewFileLogger(filePath string, minLevel LogLevel, alsoStdout, asJSON bool) (*Logger, error) {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	var w io.Writer = f
	if alsoStdout {
		w = io.MultiWriter(f, os.Stdout)
	}
	l := newLogger(w, minLevel, asJSON)
	l.file = f
	return l, nil
}

// NewLogger writes text records to w.
func NewLogger(w io.Writer, minLevel LogLevel) *Logger {
	return newLogger(w, minLevel, false)
}

// Discard returns a logger that drops every record.
func Discard() *Logger {
	l := newLogger(io.Discard, CRITICAL, false)
	l.level.Set(slogCritical + 1)
	return l
}

func newLogger(w io.Writer, minLevel LogLevel, asJSON bool) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(minLevel.slogLevel())
	opts := &slog.HandlerOptions{Level: lv, ReplaceAttr: levelName}

	var h slog.Handler
	if asJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{
		mu:    &sync.Mutex{},
		level: lv,
		sl:    slog.New(h),
	}
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_ = l.file.Sync()
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

func (l *Logger) SetMinLevel(level LogLevel) {
	l.level.Set(level.slogLevel())
}

// With returns a logger that adds the given key/value attributes to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		mu:    l.mu,
		level: l.level,
		file:  l.file,
		sl:    l.sl.With(args...),
	}
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	lvl := level.slogLevel()
	ctx := context.Background()
	if !l.sl.Enabled(ctx, lvl) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.sl.Log(ctx, lvl, msg)
}

func (l *Logger) Trace(msg string, args ...any)    { l.log(TRACE, msg, args...) }
func (l *Logger) Debug(msg string, args ...any)    { l.log(DEBUG, msg, args...) }
func (l *Logger) Info(msg string, args ...any)     { l.log(INFO, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)     { l.log(WARN, msg, args...) }
func (l *Logger) Error(msg string, args ...any)    { l.log(ERROR, msg, args...) }
func (l *Logger) Critical(msg string, args ...any) { l.log(CRITICAL, msg, args...) }
