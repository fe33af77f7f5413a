package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// slog has no trace level; place it below debug.
const slogLevelTrace = slog.LevelDebug - 4

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelTrace:
		return slogLevelTrace
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps ERROR, WARN, INFO, DEBUG and TRACE (any case) to a level.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError, true
	case "WARN":
		return LogLevelWarn, true
	case "INFO":
		return LogLevelInfo, true
	case "DEBUG":
		return LogLevelDebug, true
	case "TRACE":
		return LogLevelTrace, true
	}
	return LogLevelInfo, false
}

// Logger provides leveled logging
type Logger struct {
	level LogLevel
	sl    *slog.Logger
}

// NewLogger creates a new logger with the specified level writing to stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerTo(os.Stderr, level, false)
}

// NewLoggerTo creates a logger writing to w. noColor disables ANSI colors.
func NewLoggerTo(w io.Writer, level LogLevel, noColor bool) *Logger {
	h := tint.NewHandler(w, &tint.Options{
		Level:      level.slogLevel(),
		TimeFormat: "15:04:05",
		NoColor:    noColor,
	})
	return &Logger{level: level, sl: slog.New(h)}
}

// NewDefaultLogger creates a logger based on LOG_LEVEL environment variable
func NewDefaultLogger() *Logger {
	level, _ := ParseLogLevel(os.Getenv("LOG_LEVEL"))
	return NewLogger(level)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LogLevelError, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LogLevelWarn, format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LogLevelInfo, format, args...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LogLevelDebug, format, args...)
}

// Trace logs trace messages
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LogLevelTrace, format, args...)
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.sl.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...))
}

// Slog exposes the underlying structured logger for key/value logging
func (l *Logger) Slog() *slog.Logger {
	return l.sl
}

// Global logger instance
var DefaultLogger = NewDefaultLogger()
