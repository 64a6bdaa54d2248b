// Package clilog initializes the process-wide zerolog logger for
// treecrdtctl, the same global-logger-plus-component-child pattern
// cuemby-warren's pkg/log uses for its own CLI binary.
package clilog

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init. Before Init runs it is
// the zero value (zerolog.Logger{}), which writes to no-op output.
var Logger zerolog.Logger

// Config controls the global logger's level and rendering.
type Config struct {
	Level      string // debug, info, warn, error
	JSONOutput bool
}

// Init configures the global Logger per cfg. Unrecognized levels fall back
// to info, mirroring pkg/log's default-on-unknown behavior.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.JSONOutput {
		Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		return
	}
	Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
