// Package logging builds the process-wide zerolog.Logger every command and
// engine logs through. Grounded on the zerolog setup pattern seen across
// the retrieved pack (timestamped, level-parsed from a flag/config value,
// writing to stderr).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger at the given level ("debug", "info", "warn", "error",
// ...). An unparsable level falls back to info rather than failing startup.
func New(levelName string, nodeID string) zerolog.Logger {
	zerolog.TimestampFieldName = "ts"
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Str("node", nodeID).
		Logger().
		Level(level)

	return logger
}
