// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const service = "slackdigest"

// Setup installs a JSON logger on stdout as the global logger. Unknown
// levels fall back to info.
func Setup(level, version string) zerolog.Logger {
	return SetupWriter(os.Stdout, level, version)
}

func SetupWriter(w io.Writer, level, version string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger().
		Level(lvl)

	log.Logger = logger
	return logger
}
