// Package logger builds the zerolog loggers used across the coordination
// node.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates the root logger. Format is "json" or "console"; level follows
// zerolog numbering (-1 trace .. 5 panic). When sample is true, repetitive
// logs are sampled 1-in-5.
func New(level int, format string, sample bool) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if format != "json" {
		writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	log := zerolog.New(writer).
		Level(zerolog.Level(level)).
		With().
		Timestamp().
		Logger()

	if sample {
		log = log.Sample(&zerolog.BasicSampler{N: 5})
	}
	return log
}

// Component returns a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
