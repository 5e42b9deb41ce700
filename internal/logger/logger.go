// Package logger builds the zerolog loggers used across mailpacer.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"mailpacer/internal/config"
)

// New creates a logger at level writing to w. format "console" or "text"
// selects human-readable output; anything else is JSON.
func New(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "text" || format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// FromEnv reads MAILPACER_LOG_LEVEL and MAILPACER_LOG_FORMAT. MAILPACER_DEBUG
// forces the debug level. Output goes to stderr so stdout stays free for
// command results.
func FromEnv() zerolog.Logger {
	level := config.String("MAILPACER_LOG_LEVEL", "info")
	if config.Bool("MAILPACER_DEBUG", false) {
		level = "debug"
	}
	return New(level, config.String("MAILPACER_LOG_FORMAT", "console"), os.Stderr)
}

// WithComponent returns a child logger tagged with component.
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// HTTPRequest logs one served HTTP request.
func HTTPRequest(l zerolog.Logger, method, path string, statusCode int, duration time.Duration, clientIP string) {
	l.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("client_ip", clientIP).
		Msg("HTTP request")
}
