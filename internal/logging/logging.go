// Package logging configures the process-wide zerolog logger,
// generalized from the teacher's Init (hard-coded /var/log file) into
// an optional-path variant: an empty path logs to stderr, matching how
// this controller runs under a supervisor/container instead of always
// owning a fixed log file on the host.
package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global zerolog logger at level, writing to path
// if non-empty or to stderr otherwise.
func Init(level zerolog.Level, path string) {
	var writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}

	var logger zerolog.Logger
	if path == "" {
		logger = zerolog.New(writer).Level(level).With().Timestamp().Logger()
	} else {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		multi := zerolog.MultiLevelWriter(logFile, writer)
		logger = zerolog.New(multi).Level(level).With().Timestamp().Logger()
	}

	log.Logger = logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("log level set to debug")
	}
}
