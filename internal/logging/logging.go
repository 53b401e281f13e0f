/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Output formats for stdout.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options selects the level and stdout format of the process logger.
type Options struct {
	Environment string
	Level       string // Overrides the environment default when set
	Format      string // FormatConsole (default) or FormatJSON

	// Capture receives every line as JSON regardless of Format, e.g. the
	// in-memory log buffer behind /api/v1/logs.
	Capture io.Writer
	// Stdout defaults to os.Stdout.
	Stdout io.Writer
}

// Setup configures zerolog for the process and installs it as the global logger.
func Setup(opts Options) (zerolog.Logger, error) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if opts.Environment == "development" {
		level = zerolog.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	var writer io.Writer
	switch opts.Format {
	case "", FormatConsole:
		writer = zerolog.ConsoleWriter{Out: out}
	case FormatJSON:
		writer = out
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", opts.Format)
	}
	if opts.Capture != nil {
		writer = zerolog.MultiLevelWriter(writer, opts.Capture)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger, nil
}

// Component returns a child logger tagged with the component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
