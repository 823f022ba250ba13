// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package logging provides the zerolog logger shared by every snapvault
// command.
//
// The process logger is configured once per command from the loaded
// configuration and then reached through Ctx, which adds the run id of the
// backup or restore in progress:
//
//	logging.Init(logging.Config{Level: "info", Format: "console"})
//	logging.Ctx(ctx).Warn().Err(err).Msg("Upload failed, keeping local copy")
//
// Settings (read by internal/config, applied by cmd/snapvault):
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: console)
//   - LOG_CALLER: include caller file and line (default: false)
//
// Log output goes to stderr so that --json command output on stdout stays
// machine readable.
package logging

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level name; unknown names mean info.
	Level string
	// Format is json or console.
	Format string
	// Caller adds file:line to every event.
	Caller bool
	// Timestamp adds an RFC 3339 time field.
	Timestamp bool
	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultConfig is the logger used before a configuration is loaded.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Format:    "console",
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// levels maps accepted level names, lowercased, to zerolog levels.
var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"fatal":    zerolog.FatalLevel,
	"panic":    zerolog.PanicLevel,
	"disabled": zerolog.Disabled,
}

// current is the process logger. Commands reconfigure it once the
// configuration is known, so it is swapped atomically.
var current atomic.Pointer[zerolog.Logger]

//nolint:gochecknoinits // logging must work before a config is loaded
func init() {
	Init(DefaultConfig())
}

// Init replaces the process logger according to cfg. It may be called again
// to reconfigure.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	zerolog.SetGlobalLevel(parseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.MessageFieldName = "message"

	if !strings.EqualFold(cfg.Format, "json") {
		// Cron mails captured output, where color escapes are noise.
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05", NoColor: !isTerminal(out)}
	}

	zc := zerolog.New(out).With()
	if cfg.Timestamp {
		zc = zc.Timestamp()
	}
	if cfg.Caller {
		zc = zc.Caller()
	}
	l := zc.Logger()
	current.Store(&l)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func parseLevel(level string) zerolog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// ValidLevel reports whether level names a known level.
func ValidLevel(level string) bool {
	_, ok := levels[strings.ToLower(level)]
	return ok
}

// Logger returns the process logger.
func Logger() zerolog.Logger {
	return *current.Load()
}

// SetLogger replaces the process logger, typically with one writing to a
// test buffer.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	current.Store(&l)
}

// With starts a child logger context.
func With() zerolog.Context {
	return current.Load().With()
}

// Debug starts a debug event on the process logger.
func Debug() *zerolog.Event { return current.Load().Debug() }

// Info starts an info event on the process logger.
func Info() *zerolog.Event { return current.Load().Info() }

// Warn starts a warning event on the process logger.
func Warn() *zerolog.Event { return current.Load().Warn() }

// Error starts an error event on the process logger.
func Error() *zerolog.Event { return current.Load().Error() }

// NewTestLogger returns a JSON logger writing to w.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}
