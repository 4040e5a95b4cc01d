// Package logging provides structured logging for the service using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide logger. Init replaces it; the zero setup from
// init() keeps the package usable before configuration is loaded.
var Logger zerolog.Logger

// Config controls logger construction.
type Config struct {
	Level  zerolog.Level
	Output io.Writer // defaults to os.Stderr
	Pretty bool      // human-readable console output instead of JSON
}

// Init builds the global logger from cfg.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	out := cfg.Output
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339
	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info for
// unrecognized values.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug starts a debug-level event.
func Debug() *zerolog.Event { return Logger.Debug() }

// Info starts an info-level event.
func Info() *zerolog.Event { return Logger.Info() }

// Warn starts a warn-level event.
func Warn() *zerolog.Event { return Logger.Warn() }

// Error starts an error-level event.
func Error() *zerolog.Event { return Logger.Error() }

// Fatal starts a fatal-level event; Msg/Send on it exits the process.
func Fatal() *zerolog.Event { return Logger.Fatal() }

func init() {
	Init(Config{Level: zerolog.InfoLevel})
}
