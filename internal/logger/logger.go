// Package logger builds the process logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger writing to stdout. format is "console" or
// "json"; level is any zerolog level name.
func New(level, format string) (zerolog.Logger, error) {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(out io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var writer io.Writer
	switch format {
	case "json":
		writer = out
	case "console", "":
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	default:
		return zerolog.Nop(), fmt.Errorf("log format must be 'json' or 'console', got %q", format)
	}

	return zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Logger(), nil
}
