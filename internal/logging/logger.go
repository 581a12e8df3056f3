package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the environment variable holding the log level.
const LevelEnv = "DECK_LOG_LEVEL"

// Init initializes the global logger for interactive use: a console writer on
// stderr, level from DECK_LOG_LEVEL (debug, info, warn, error; default info).
func Init() {
	SetLevel(os.Getenv(LevelEnv))
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// InitJSON initializes the global logger for Lambda: structured JSON on
// stdout with timestamps, level from DECK_LOG_LEVEL.
func InitJSON() {
	InitWriter(os.Stdout)
}

// InitWriter initializes the global logger with JSON output to w.
func InitWriter(w io.Writer) {
	SetLevel(os.Getenv(LevelEnv))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetLevel sets the global level by name. Unknown names mean info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
