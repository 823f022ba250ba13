// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// runIDKey carries the id of the backup run or restore in progress.
type runIDKey struct{}

// GenerateRunID returns a short random id, the first 8 hex digits of a UUID.
// It is long enough to tell runs apart in a journal of a few dozen entries.
func GenerateRunID() string {
	return uuid.New().String()[:8]
}

// ContextWithRunID returns ctx tagged with id.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// ContextWithNewRunID tags ctx with a fresh run id.
func ContextWithNewRunID(ctx context.Context) context.Context {
	return ContextWithRunID(ctx, GenerateRunID())
}

// RunIDFromContext returns the run id of ctx, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Ctx returns the process logger with the run id of ctx, if any, attached.
//
//	logging.Ctx(ctx).Info().Msg("Export finished")
//	// {"level":"info","run_id":"abc12345","message":"Export finished"}
func Ctx(ctx context.Context) *zerolog.Logger {
	l := Logger()
	if id := RunIDFromContext(ctx); id != "" {
		l = l.With().Str("run_id", id).Logger()
	}
	return &l
}
