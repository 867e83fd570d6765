// Package logging configures the process-wide zerolog logger.
//
// Armada logs to stderr so that stdout stays reserved for the run summary
// that downstream automation parses. The default level is warn; --verbose
// lowers it to debug with a human-readable console writer.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns a configured logger. When verbose is true it emits
// debug-level console output; otherwise warn-level JSON.
func Setup(verbose bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if verbose {
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(zerolog.WarnLevel).With().Timestamp().Logger()
}
