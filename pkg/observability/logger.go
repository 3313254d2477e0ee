// Package observability provides the logging and metrics surface used
// across the retrieval engine. Components receive a Logger and a
// MetricsClient at construction; tests substitute the no-op variants.
package observability

import (
	"fmt"
	"log"
	"time"
)

// LogLevel defines log message severity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

var levelRank = map[LogLevel]int{
	LogLevelDebug: 0,
	LogLevelInfo:  1,
	LogLevelWarn:  2,
	LogLevelError: 3,
}

// Logger is the logging interface used throughout the engine.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	WithPrefix(prefix string) Logger
}

// StandardLogger logs through the standard log package with a
// timestamped, levelled, prefixed line format.
type StandardLogger struct {
	prefix string
	level  LogLevel
}

// NewStandardLogger creates a StandardLogger at INFO level.
func NewStandardLogger(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: LogLevelInfo}
}

// NewStandardLoggerWithLevel creates a StandardLogger at the given
// minimum level. Unknown levels fall back to INFO.
func NewStandardLoggerWithLevel(prefix string, level LogLevel) Logger {
	if _, ok := levelRank[level]; !ok {
		level = LogLevelInfo
	}
	return &StandardLogger{prefix: prefix, level: level}
}

// ParseLogLevel maps a config string to a LogLevel.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "warn", "WARN", "warning":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// WithPrefix returns a logger that tags lines with the given prefix.
func (l *StandardLogger) WithPrefix(prefix string) Logger {
	return &StandardLogger{prefix: prefix, level: l.level}
}

// Debug logs a debug message.
func (l *StandardLogger) Debug(msg string, fields map[string]interface{}) {
	l.log(LogLevelDebug, msg, fields)
}

// Info logs an info message.
func (l *StandardLogger) Info(msg string, fields map[string]interface{}) {
	l.log(LogLevelInfo, msg, fields)
}

// Warn logs a warning message.
func (l *StandardLogger) Warn(msg string, fields map[string]interface{}) {
	l.log(LogLevelWarn, msg, fields)
}

// Error logs an error message.
func (l *StandardLogger) Error(msg string, fields map[string]interface{}) {
	l.log(LogLevelError, msg, fields)
}

// Debugf logs a formatted debug message.
func (l *StandardLogger) Debugf(format string, args ...interface{}) {
	l.log(LogLevelDebug, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted info message.
func (l *StandardLogger) Infof(format string, args ...interface{}) {
	l.log(LogLevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted warning message.
func (l *StandardLogger) Warnf(format string, args ...interface{}) {
	l.log(LogLevelWarn, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted error message.
func (l *StandardLogger) Errorf(format string, args ...interface{}) {
	l.log(LogLevelError, fmt.Sprintf(format, args...), nil)
}

func (l *StandardLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	if levelRank[level] < levelRank[l.level] {
		return
	}
	timestamp := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	fieldsStr := ""
	for k, v := range fields {
		fieldsStr += fmt.Sprintf(" %s=%v", k, v)
	}
	log.Printf("%s [%s] [%s] %s%s", timestamp, level, l.prefix, msg, fieldsStr)
}

// NoopLogger discards everything. Used in tests.
type NoopLogger struct{}

// NewNoopLogger creates a NoopLogger.
func NewNoopLogger() Logger { return &NoopLogger{} }

func (l *NoopLogger) Debug(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) Info(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Warn(msg string, fields map[string]interface{})  {}
func (l *NoopLogger) Error(msg string, fields map[string]interface{}) {}
func (l *NoopLogger) Debugf(format string, args ...interface{})       {}
func (l *NoopLogger) Infof(format string, args ...interface{})        {}
func (l *NoopLogger) Warnf(format string, args ...interface{})        {}
func (l *NoopLogger) Errorf(format string, args ...interface{})       {}
func (l *NoopLogger) WithPrefix(prefix string) Logger                 { return l }
