// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package schedule registers the backup run with the host scheduler.
//
// The host scheduler is treated as a table of (expression, command) entries.
// Ensure keeps exactly one entry for the run command: an entry with a
// different expression is replaced, never duplicated.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomtom215/snapvault/internal/logging"
)

// ErrInvalidExpression is returned for expressions the host scheduler would reject.
var ErrInvalidExpression = errors.New("invalid schedule expression")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseExpression parses a five-field cron expression or a descriptor such
// as @daily.
func ParseExpression(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidExpression, expr, err)
	}
	return sched, nil
}

// ValidateExpression reports whether expr is usable in a crontab.
func ValidateExpression(expr string) error {
	if strings.HasPrefix(strings.TrimSpace(expr), "@every") {
		return fmt.Errorf("%w: %q: @every is not supported by cron", ErrInvalidExpression, expr)
	}
	_, err := ParseExpression(expr)
	return err
}

// NextRun returns the first activation strictly after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseExpression(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Entry binds a trigger expression to a command.
type Entry struct {
	Expression string `json:"expression"`
	Command    string `json:"command"`
}

// Line renders the entry as a crontab line.
func (e Entry) Line() string {
	return strings.TrimSpace(e.Expression) + " " + strings.TrimSpace(e.Command)
}

// Scheduler is the host scheduler.
type Scheduler interface {
	ListEntries(ctx context.Context) ([]Entry, error)
	// ReplaceEntriesMatching removes every entry for which match returns
	// true and installs entry, in one update.
	ReplaceEntriesMatching(ctx context.Context, match func(Entry) bool, entry Entry) error
}

// MatchCommand matches entries running command, with or without trailing
// arguments or redirections.
func MatchCommand(command string) func(Entry) bool {
	command = strings.TrimSpace(command)
	return func(e Entry) bool {
		c := strings.TrimSpace(e.Command)
		return c == command || strings.HasPrefix(c, command+" ")
	}
}

// Outcome reports what Ensure did.
type Outcome int

const (
	// Unchanged means exactly one matching entry already had the expression.
	Unchanged Outcome = iota
	// Installed means no entry existed and one was added.
	Installed
	// Replaced means existing entries were superseded by a single new one.
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case Installed:
		return "installed"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Ensure makes the scheduler hold exactly one entry for command at expr.
func Ensure(ctx context.Context, s Scheduler, expr, command string) (Outcome, error) {
	if err := ValidateExpression(expr); err != nil {
		return Unchanged, err
	}
	if strings.TrimSpace(command) == "" {
		return Unchanged, errors.New("schedule command is empty")
	}

	entries, err := s.ListEntries(ctx)
	if err != nil {
		return Unchanged, fmt.Errorf("failed to list schedule entries: %w", err)
	}

	match := MatchCommand(command)
	var existing []Entry
	for _, e := range entries {
		if match(e) {
			existing = append(existing, e)
		}
	}
	if len(existing) == 1 && sameExpression(existing[0].Expression, expr) {
		return Unchanged, nil
	}

	want := Entry{Expression: strings.TrimSpace(expr), Command: strings.TrimSpace(command)}
	if err := s.ReplaceEntriesMatching(ctx, match, want); err != nil {
		return Unchanged, fmt.Errorf("failed to update schedule: %w", err)
	}

	outcome := Installed
	if len(existing) > 0 {
		outcome = Replaced
	}
	logging.Ctx(ctx).Info().
		Str("expression", want.Expression).
		Int("superseded", len(existing)).
		Str("outcome", outcome.String()).
		Msg("Schedule entry registered")
	return outcome, nil
}

// Lookup returns the first entry for command, or nil when none exists.
func Lookup(ctx context.Context, s Scheduler, command string) (*Entry, error) {
	entries, err := s.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	match := MatchCommand(command)
	for _, e := range entries {
		if match(e) {
			return &e, nil
		}
	}
	return nil, nil
}

func sameExpression(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}
