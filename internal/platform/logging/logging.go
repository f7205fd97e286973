// Package logging builds the engine's root logger: structured events to a
// rotating file, optionally mirrored to a human-readable console stream in
// development.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options select the log destinations and level.
type Options struct {
	Path       string // rotating log file; empty disables the file sink
	Level      string // trace|debug|info|warn|error
	MaxSizeMB  int
	MaxBackups int
	Console    bool // mirror to stderr with ConsoleWriter
}

// New returns the root logger and a close function for the file sink.
func New(opts Options) (zerolog.Logger, func() error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	closeFn := func() error { return nil }

	if opts.Path != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, rotating)
		closeFn = rotating.Close
	}
	if opts.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	var out io.Writer
	if len(writers) == 1 {
		out = writers[0]
	} else {
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return logger, closeFn
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() zerolog.Logger {
	return zerolog.New(io.Discard)
}
