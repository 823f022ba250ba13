// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/artifact"
)

// orphanSuffixes are the in-flight names a killed run can leave behind.
var orphanSuffixes = []string{
	artifact.PartName(artifact.Extension),
	artifact.PartName(artifact.ExportExtension),
	artifact.ExportExtension,
}

// isOrphan reports whether name is a plaintext export or partial output of
// some run. Complete encrypted artifacts never match.
func isOrphan(name string) bool {
	for _, suffix := range orphanSuffixes {
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		stamp := strings.TrimSuffix(name, suffix)
		if len(stamp) != len(artifact.TimestampLayout) {
			return false
		}
		_, err := time.Parse(artifact.TimestampLayout, stamp)
		return err == nil
	}
	return false
}

// sweepOrphans removes leftovers of runs that were killed before their
// rollback could execute. It must only be called while holding the lock.
func sweepOrphans(dir string, log zerolog.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to scan for leftover files")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isOrphan(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
			log.Warn().Str("path", path).Msg("Removed leftover file from an interrupted run")
		case errors.Is(err, os.ErrNotExist):
		default:
			log.Error().Err(err).Str("path", path).Msg("Failed to remove leftover file")
		}
	}
	return removed
}
