// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package command runs the external programs snapvault delegates to (export
// tool, openssl, aws CLI, crontab) with bounded output capture, optional
// deadlines and secrets passed through the environment only.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultMaxOutput bounds captured stdout and stderr.
const DefaultMaxOutput = 64 << 10

// ErrTimeout is returned when a command exceeds its deadline.
var ErrTimeout = errors.New("command timed out")

// Cmd describes one invocation.
type Cmd struct {
	// Path is the executable, resolved through PATH when it has no slash.
	Path string
	Args []string

	// Env entries are appended to the current environment.
	Env []string

	Stdin io.Reader

	// Timeout of zero means no deadline beyond ctx.
	Timeout time.Duration

	// MaxOutput caps each captured stream; zero means DefaultMaxOutput.
	MaxOutput int
}

// String renders the command line without environment values.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Output is what a finished command produced.
type Output struct {
	Stdout []byte
	Stderr []byte
	// StdoutTruncated is set when stdout exceeded MaxOutput.
	StdoutTruncated bool
}

// ExitError reports a command that ran but did not succeed.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Runner executes commands. Adapters depend on this interface so tests can
// substitute scripted fakes.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (Output, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner. A deadline hit yields an error wrapping ErrTimeout;
// a non-zero exit yields *ExitError carrying the stderr tail.
func (ExecRunner) Run(ctx context.Context, c Cmd) (Output, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	limit := c.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &LimitedBuffer{MaxBytes: limit}
	stderr := &LimitedBuffer{MaxBytes: limit}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...) //nolint:gosec // operator-configured tool
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), StdoutTruncated: stdout.Truncated()}
	if err == nil {
		return out, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return out, fmt.Errorf("%w: %s after %s", ErrTimeout, c.Path, c.Timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, fmt.Errorf("%s: %w", c.Path, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &ExitError{
			Command:  c.Path,
			ExitCode: exitErr.ExitCode(),
			Stderr:   Tail(out.Stderr, 512),
			Err:      err,
		}
	}
	return out, fmt.Errorf("failed to run %s: %w", c.Path, err)
}

// LimitedBuffer keeps the first MaxBytes written and discards the rest.
type LimitedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	MaxBytes  int
	truncated bool
}

// Write implements io.Writer. It never fails so a chatty child cannot block.
func (b *LimitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.MaxBytes - b.buf.Len()
	if remaining <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > remaining {
		_, _ = b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	_, _ = b.buf.Write(p)
	return len(p), nil
}

// Bytes returns a copy of the captured output.
func (b *LimitedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// Truncated reports whether output was dropped.
func (b *LimitedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Tail returns the last n bytes of out as trimmed text.
func Tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// ShellQuote quotes v for safe interpolation into a /bin/sh command line.
func ShellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
}
