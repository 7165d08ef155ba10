package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns a human-readable console logger for local runs and JSON everywhere else.
// Unknown levels fall back to info.
func NewLogger(appEnv, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if appEnv == "local" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(lvl).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// LoggerOrNop dereferences l, substituting a disabled logger for nil.
func LoggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
