// Package logger is the process-wide structured logger. Call sites pass a
// message and alternating key/value pairs:
//
//	logger.Info("entry sent", "entry_id", id, "thread_id", threadID)
//
// Output is single-line JSON on stderr. Values under keys that name an email
// address are masked, and email addresses embedded in other string values
// are masked too, unless redaction is switched off.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var zerologLevels = map[Level]zerolog.Level{
	DEBUG: zerolog.DebugLevel,
	INFO:  zerolog.InfoLevel,
	WARN:  zerolog.WarnLevel,
	ERROR: zerolog.ErrorLevel,
}

// Logger wraps a zerolog.Logger with PII redaction.
type Logger struct {
	mu        sync.RWMutex
	zl        zerolog.Logger
	redactPII bool
}

var defaultLogger = New(os.Stderr)

// New creates a logger writing JSON to w at INFO level.
func New(w io.Writer) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	return &Logger{
		zl:        zerolog.New(w).With().Timestamp().Logger().Level(zerolog.InfoLevel),
		redactPII: true,
	}
}

// SetOutput redirects the default logger, keeping its level.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	level := defaultLogger.zl.GetLevel()
	defaultLogger.zl = zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.zl = defaultLogger.zl.Level(zerologLevels[l])
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level; anything
// else is INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.redactPII = r
}

// Zerolog exposes the underlying logger for middleware that logs natively.
func Zerolog() zerolog.Logger {
	defaultLogger.mu.RLock()
	defer defaultLogger.mu.RUnlock()
	return defaultLogger.zl
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	zl, redact := l.zl, l.redactPII
	l.mu.RUnlock()

	ev := zl.WithLevel(zerologLevels[level])
	if ev == nil {
		return
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.Str(key, redactIf(redact, key, v.Error()))
		case string:
			ev = ev.Str(key, redactIf(redact, key, v))
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case time.Duration:
			ev = ev.Str(key, v.String())
		case time.Time:
			ev = ev.Time(key, v)
		default:
			ev = ev.Str(key, redactIf(redact, key, fmt.Sprintf("%v", v)))
		}
	}
	ev.Msg(msg)
}

func redactIf(redact bool, key, val string) string {
	if !redact {
		return val
	}
	return redactPIIValue(key, val)
}
