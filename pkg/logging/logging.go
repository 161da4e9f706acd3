// Package logging configures structured logging for the server: colored
// tint output for terminals, plain JSON for container logs.
//
// Usage:
//
//	logging.Setup()                          // level and format from env
//	logging.SetupWithLevel(slog.LevelDebug)  // explicit level override
//
// Environment variables:
//
//	LOG_LEVEL: debug, info, warn, error (default: info)
//	LOG_FORMAT: text, json (default: text)
package logging

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// Setup configures logging from the LOG_LEVEL and LOG_FORMAT env vars.
func Setup() {
	SetupWithLevel(levelFromEnv())
}

// SetupWithLevel configures logging at the given level, format still from
// LOG_FORMAT.
func SetupWithLevel(level slog.Level) {
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			AddSource:  true,
		})
	}
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps a level name onto slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelFromEnv() slog.Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}
