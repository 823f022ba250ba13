// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package schedule

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/snapvault/internal/command"
)

// Crontab manages the invoking user's crontab through the crontab binary.
// Lines it does not own, comments included, are preserved.
type Crontab struct {
	// Path to crontab; "crontab" when empty.
	Path   string
	Runner command.Runner
}

// NewCrontab returns a Crontab using the host runner.
func NewCrontab() *Crontab {
	return &Crontab{Path: "crontab", Runner: command.ExecRunner{}}
}

// ListEntries implements Scheduler.
func (c *Crontab) ListEntries(ctx context.Context) ([]Entry, error) {
	lines, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, line := range lines {
		if e, ok := ParseLine(line); ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// ReplaceEntriesMatching implements Scheduler.
func (c *Crontab) ReplaceEntriesMatching(ctx context.Context, match func(Entry) bool, entry Entry) error {
	lines, err := c.read(ctx)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		if e, ok := ParseLine(line); ok && match(e) {
			continue
		}
		kept = append(kept, line)
	}
	kept = append(kept, entry.Line())

	table := strings.Join(kept, "\n") + "\n"
	_, err = c.runner().Run(ctx, command.Cmd{
		Path:  c.path(),
		Args:  []string{"-"},
		Stdin: strings.NewReader(table),
	})
	if err != nil {
		return fmt.Errorf("failed to install crontab: %w", err)
	}
	return nil
}

// read returns the raw crontab lines. A user without a crontab has an
// empty table.
func (c *Crontab) read(ctx context.Context) ([]string, error) {
	out, err := c.runner().Run(ctx, command.Cmd{Path: c.path(), Args: []string{"-l"}})
	if err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(exitErr.Stderr), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read crontab: %w", err)
	}

	var lines []string
	scanner := bufio.NewScanner(strings.NewReader(string(out.Stdout)))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	// Drop trailing blank lines so repeated updates do not grow the table.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, scanner.Err()
}

func (c *Crontab) path() string {
	if c.Path == "" {
		return "crontab"
	}
	return c.Path
}

func (c *Crontab) runner() command.Runner {
	if c.Runner == nil {
		return command.ExecRunner{}
	}
	return c.Runner
}

// ParseLine parses a crontab line into an Entry. Comments, blank lines and
// environment assignments are not entries.
func ParseLine(line string) (Entry, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Entry{}, false
	}

	fields := strings.Fields(trimmed)
	if strings.HasPrefix(fields[0], "@") {
		if len(fields) < 2 {
			return Entry{}, false
		}
		return Entry{Expression: fields[0], Command: restAfterFields(trimmed, 1)}, true
	}

	if isAssignment(fields[0]) || len(fields) < 6 {
		return Entry{}, false
	}
	return Entry{
		Expression: strings.Join(fields[:5], " "),
		Command:    restAfterFields(trimmed, 5),
	}, true
}

// restAfterFields returns s after its first n whitespace-separated fields,
// keeping the remainder's internal spacing.
func restAfterFields(s string, n int) string {
	rest := s
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		idx := strings.IndexAny(rest, " \t")
		if idx < 0 {
			return ""
		}
		rest = rest[idx:]
	}
	return strings.TrimSpace(rest)
}

func isAssignment(field string) bool {
	eq := strings.IndexByte(field, '=')
	return eq > 0 && !strings.ContainsAny(field[:eq], "*/,-")
}
