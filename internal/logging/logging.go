/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/tablemix/internal/logbuffer"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	return SetupWithWriter(environment, os.Stdout)
}

// SetupWithBuffer is Setup plus a copy of every JSON line captured in buf.
func SetupWithBuffer(environment string, buf *logbuffer.Buffer) zerolog.Logger {
	return setup(environment, os.Stdout, logbuffer.NewWriter(buf))
}

// SetupWithWriter configures zerolog to write to out. Development gets a
// human-readable console at debug level; other environments get JSON at info.
func SetupWithWriter(environment string, out io.Writer) zerolog.Logger {
	return setup(environment, out, nil)
}

func setup(environment string, out io.Writer, capture io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	writer := out
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: out}
	}
	if capture != nil {
		writer = zerolog.MultiLevelWriter(writer, capture)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
