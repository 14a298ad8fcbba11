// Package logging wraps the process-wide structured logger. The level
// defaults from TERRANE_LOG and the format from TERRANE_LOG_FORMAT
// ("text" or "json").
package logging

import (
	"log/slog"
	"os"
	"strings"
)

const (
	// LevelEnvVar overrides the default log level.
	LevelEnvVar = "TERRANE_LOG"
	// FormatEnvVar selects the handler format: "text" (default) or "json".
	FormatEnvVar = "TERRANE_LOG_FORMAT"
)

var logger *slog.Logger

// Init initializes the global structured logger. An empty level falls back
// to TERRANE_LOG, then to "info".
func Init(level string) {
	if level == "" {
		level = os.Getenv(LevelEnvVar)
	}

	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv(FormatEnvVar), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// Logger returns the global logger instance.
func Logger() *slog.Logger {
	if logger == nil {
		Init("")
	}
	return logger
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs an info message.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}
