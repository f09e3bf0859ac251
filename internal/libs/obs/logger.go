// Package obs provides logging and metrics for the connector.
//
// Stdout carries the control channel, so every log line goes to stderr.
package obs

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger initializes the global logger on stderr
func InitLogger(level string) {
	initLogger(os.Stderr, level)
}

func initLogger(out io.Writer, level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	zerolog.SetGlobalLevel(ParseLevel(level))

	// Pretty print in development
	if os.Getenv("ENV") == "dev" {
		out = zerolog.ConsoleWriter{Out: out}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, accepting "warning" as well as
// zerolog's own names. Unknown values fall back to info.
func ParseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger returns a new logger with the given component name
func Logger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
