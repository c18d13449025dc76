package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. It starts out as a working logger
// writing to stderr so packages that log before Init runs (or in tests that
// never call it) don't need a nil check. Init replaces it with one
// configured from Config.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level names the configured verbosity; it's a string rather than
// zerolog.Level directly so Config can be unmarshaled straight from YAML.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Config controls how Init builds the global Logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init replaces the global Logger with one built from cfg. An unrecognized
// or empty Level falls back to InfoLevel; a nil Output falls back to
// stdout, since Init is meant for production startup, not test scaffolding
// (tests set Config.Output directly to capture log lines).
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if !cfg.JSONOutput {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}
	Logger = zerolog.New(output).With().Timestamp().Logger()
}

// WithComponent creates a child logger tagging every line with component,
// the convention every package in this repo uses instead of calling the
// global Logger directly.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTunnelID creates a child logger tagging every line with tunnel_id.
func WithTunnelID(tunnelID int) zerolog.Logger {
	return Logger.With().Int("tunnel_id", tunnelID).Logger()
}

// WithForwardingID creates a child logger tagging every line with
// forwarding_id.
func WithForwardingID(forwardingID int) zerolog.Logger {
	return Logger.With().Int("forwarding_id", forwardingID).Logger()
}
