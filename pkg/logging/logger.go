// Package logging provides structured logging configuration and utilities.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// New builds a component logger writing to stdout. Unparseable levels fall
// back to info rather than failing startup.
func New(cfg Config, component string) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetupLogger configures the process-global zerolog logger. Component loggers
// from New are preferred; the global covers code paths without one.
func SetupLogger(cfg Config) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	log.Logger = New(cfg, "global")
}

func parseLevel(raw string) zerolog.Level {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}
