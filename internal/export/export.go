// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package export invokes the external database export and checks its output.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tomtom215/snapvault/internal/command"
	"github.com/tomtom215/snapvault/internal/logging"
)

const (
	// DestPlaceholder in the export command is replaced by the quoted destination.
	DestPlaceholder = "{dest}"

	// DestEnv carries the destination to the export command.
	DestEnv = "SNAPVAULT_EXPORT_PATH"
)

// ErrExport wraps every export failure, including a tool that exits
// successfully but writes nothing.
var ErrExport = errors.New("export failed")

// Exporter produces an archive at destPath.
type Exporter interface {
	Export(ctx context.Context, destPath string) error
}

// ExporterFunc adapts a function to Exporter.
type ExporterFunc func(ctx context.Context, destPath string) error

// Export implements Exporter.
func (f ExporterFunc) Export(ctx context.Context, destPath string) error {
	return f(ctx, destPath)
}

// Handle describes a verified export.
type Handle struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
}

// Run invokes e and checks that destPath exists, is a regular file and is
// not empty. It does not retry and does not remove destPath on failure.
func Run(ctx context.Context, e Exporter, destPath string) (Handle, error) {
	start := time.Now()
	if err := e.Export(ctx, destPath); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrExport, err)
	}

	info, err := os.Stat(destPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Handle{}, fmt.Errorf("%w: export tool succeeded but %s does not exist", ErrExport, destPath)
	case err != nil:
		return Handle{}, fmt.Errorf("%w: %w", ErrExport, err)
	case !info.Mode().IsRegular():
		return Handle{}, fmt.Errorf("%w: %s is not a regular file", ErrExport, destPath)
	case info.Size() == 0:
		return Handle{}, fmt.Errorf("%w: export tool succeeded but %s is empty", ErrExport, destPath)
	}

	h := Handle{Path: destPath, SizeBytes: info.Size(), Duration: time.Since(start)}
	logging.Ctx(ctx).Info().
		Str("path", destPath).
		Int64("size_bytes", h.SizeBytes).
		Dur("duration", h.Duration).
		Msg("Database export complete")
	return h, nil
}

// CommandExporter runs an operator-supplied shell command.
type CommandExporter struct {
	// Command is run with Shell -c. DestPlaceholder is replaced by the
	// shell-quoted destination.
	Command string
	Shell   string

	// Timeout of zero leaves cancellation to the tool and ctx.
	Timeout time.Duration
	Runner  command.Runner
}

// NewCommandExporter returns an exporter running cmd through /bin/sh.
func NewCommandExporter(cmd string, timeout time.Duration) *CommandExporter {
	return &CommandExporter{
		Command: cmd,
		Shell:   "/bin/sh",
		Timeout: timeout,
		Runner:  command.ExecRunner{},
	}
}

// Export implements Exporter.
func (e *CommandExporter) Export(ctx context.Context, destPath string) error {
	if strings.TrimSpace(e.Command) == "" {
		return errors.New("no export command configured")
	}
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	runner := e.Runner
	if runner == nil {
		runner = command.ExecRunner{}
	}

	script := strings.ReplaceAll(e.Command, DestPlaceholder, command.ShellQuote(destPath))
	logging.Ctx(ctx).Debug().Str("dest", destPath).Msg("Starting database export")

	_, err := runner.Run(ctx, command.Cmd{
		Path:    shell,
		Args:    []string{"-c", script},
		Env:     []string{DestEnv + "=" + destPath},
		Timeout: e.Timeout,
	})
	return err
}
