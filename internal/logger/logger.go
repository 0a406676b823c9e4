package logger

import (
	"log/slog"
	"os"
	"sync"
)

var (
	defaultLogger *slog.Logger
	once          sync.Once
)

// Init initializes the package-default logger. Safe to call more than
// once; only the first call takes effect.
func Init(level string) {
	once.Do(func() {
		var logLevel slog.Level
		switch level {
		case "DEBUG":
			logLevel = slog.LevelDebug
		case "WARN":
			logLevel = slog.LevelWarn
		case "ERROR":
			logLevel = slog.LevelError
		default:
			logLevel = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{
			Level: logLevel,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				// Rename "msg" to "message" for consistency
				if a.Key == slog.MessageKey {
					a.Key = "message"
				}
				return a
			},
		}

		handler := slog.NewJSONHandler(os.Stdout, opts)
		defaultLogger = slog.New(handler)
	})
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	if defaultLogger == nil {
		Init("INFO")
	}
	defaultLogger.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	if defaultLogger == nil {
		Init("INFO")
	}
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	if defaultLogger == nil {
		Init("INFO")
	}
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	if defaultLogger == nil {
		Init("INFO")
	}
	defaultLogger.Error(msg, args...)
}

// With returns a logger with attributes
func With(args ...any) *slog.Logger {
	if defaultLogger == nil {
		Init("INFO")
	}
	return defaultLogger.With(args...)
}

// Named returns a logger scoped to a pool instance, falling back to the
// package default when base is nil. Every pool component logs through a
// Named logger so multi-pool processes can tell entries apart.
func Named(base *slog.Logger, pool string) *slog.Logger {
	if base == nil {
		if defaultLogger == nil {
			Init("INFO")
		}
		base = defaultLogger
	}
	return base.With("pool", pool)
}
