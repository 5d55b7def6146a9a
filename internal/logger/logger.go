// Package logger holds the process-wide zerolog instance shared by the
// HTTP surface, the registry, and playout sessions.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the shared logger. Its zero value discards everything, so
// packages may log before Init has run.
var Log zerolog.Logger

// Init configures Log at the given level. When pretty is set the output
// goes through the human-readable console writer instead of raw JSON,
// which is what you want for local runs against a terminal.
func Init(level string, pretty bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	zerolog.SetGlobalLevel(parseLogLevel(level))

	Log = zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// parseLogLevel maps a config string to a zerolog level. Unknown
// values fall back to info rather than erroring.
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
