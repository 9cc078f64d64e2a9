// Package logging provides leveled logging for the runtime and its
// components (scheduler, cache, dispatcher). NewZapLogger adapts a
// *zap.Logger onto the same interface for callers who already run zap.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Format string // "text" (default) or "json"
	Output io.Writer
	// Sync disables any future buffering/async flush; kept so
	// callers migrating from a buffered logger don't lose data
	// at shutdown.
	Sync bool
	// NoColor disables ANSI coloring in text mode.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
		Sync:   true,
	}
}

// Logger wraps a destination writer with level support and a chain of
// structured key/value fields attached via the With* helpers.
type Logger struct {
	out    io.Writer
	level  LogLevel
	format string
	fields []field
	mu     *sync.Mutex
}

type field struct {
	key string
	val any
}

var (
	defaultLogger *Logger
	defaultMu     sync.RWMutex
)

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		out:    output,
		level:  config.Level,
		format: format,
		mu:     &sync.Mutex{},
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	defaultMu.RLock()
	if defaultLogger != nil {
		defer defaultMu.RUnlock()
		return defaultLogger
	}
	defaultMu.RUnlock()

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = logger
}

// with returns a derived logger carrying an additional structured field.
func (l *Logger) with(key string, val any) *Logger {
	fields := make([]field, len(l.fields), len(l.fields)+1)
	copy(fields, l.fields)
	fields = append(fields, field{key, val})
	return &Logger{out: l.out, level: l.level, format: l.format, fields: fields, mu: l.mu}
}

// WithContext tags subsequent log lines with the owning context id.
func (l *Logger) WithContext(contextID int) *Logger {
	return l.with("context_id", contextID)
}

// WithFiber tags subsequent log lines with a fiber id.
func (l *Logger) WithFiber(fiberID uint64) *Logger {
	return l.with("fiber_id", fiberID)
}

// WithSink tags subsequent log lines with a sink file descriptor.
func (l *Logger) WithSink(fd int) *Logger {
	return l.with("sink_fd", fd)
}

// WithError tags subsequent log lines with an error value.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

func (l *Logger) render(level LogLevel, msg string, args []any) string {
	switch l.format {
	case "json":
		return l.renderJSON(level, msg, args)
	default:
		return l.renderText(level, msg, args)
	}
}

func (l *Logger) renderText(level LogLevel, msg string, args []any) string {
	out := fmt.Sprintf("[%s] %s", level.String(), msg)
	for _, f := range l.fields {
		out += fmt.Sprintf(" %s=%v", f.key, f.val)
	}
	out += formatArgs(args)
	return out
}

func (l *Logger) renderJSON(level LogLevel, msg string, args []any) string {
	out := fmt.Sprintf(`{"level":%q,"msg":%q`, level.String(), msg)
	for _, f := range l.fields {
		out += fmt.Sprintf(`,%q:%v`, f.key, quoteIfString(f.val))
	}
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(`,%q:%v`, fmt.Sprintf("%v", args[i]), quoteIfString(args[i+1]))
	}
	out += "}"
	return out
}

func quoteIfString(v any) any {
	switch s := v.(type) {
	case string:
		return fmt.Sprintf("%q", s)
	default:
		return v
	}
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	if level < l.level {
		return
	}
	line := l.render(level, msg, args)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, line)
}

func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, fmt.Sprintf(format, args...)) }

// Printf for compatibility with io.Writer-style loggers
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
