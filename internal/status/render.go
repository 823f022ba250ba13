// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package status

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/lock"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// WriteText writes the report as aligned "key: value" lines followed by the
// warnings.
func WriteText(w io.Writer, rep *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	line := func(key, format string, args ...any) {
		fmt.Fprintf(tw, "%s:\t%s\n", key, fmt.Sprintf(format, args...)) //nolint:errcheck // flushed below
	}

	a := rep.Artifacts
	line("Artifacts", "%d in %s (%s)", a.Count, a.Dir, formatBytes(a.TotalBytes))
	if a.Oldest != nil {
		line("Oldest", "%s", a.Oldest.Name)
	}
	if a.Newest != nil {
		line("Newest", "%s (%s)", a.Newest.Name, a.Newest.ModTime.UTC().Format(time.RFC3339))
	}
	if rep.NewestAge != nil {
		line("Newest age", "%s", rep.NewestAge.Round(time.Minute))
	}

	switch r := rep.Remote; {
	case !r.Enabled:
		line("Remote", "not configured")
	case r.Error != "":
		line("Remote", "%s (unavailable: %s)", r.Location, r.Error)
	case r.Newest != nil:
		line("Remote", "%d in %s (%s), newest %s", r.Count, r.Location, formatBytes(r.TotalBytes), r.Newest.Name)
	default:
		line("Remote", "0 in %s", r.Location)
	}

	switch {
	case rep.Lock.Marker != nil && rep.Lock.Status != lock.StatusFree:
		line("Lock", "%s (pid %d since %s)", rep.Lock.Status, rep.Lock.Marker.PID, rep.Lock.Marker.AcquiredAt.UTC().Format(time.RFC3339))
	default:
		line("Lock", "%s", rep.Lock.Status)
	}

	s := rep.Schedule
	switch {
	case !s.Checked:
		line("Schedule", "not checked")
	case s.Registered && s.NextRun != nil:
		line("Schedule", "%s (next %s)", s.Expression, s.NextRun.Format(time.RFC3339))
	case s.Registered:
		line("Schedule", "%s", s.Expression)
	case s.Error != "":
		line("Schedule", "unknown (%s)", s.Error)
	default:
		line("Schedule", "not registered")
	}

	if rep.Disk.Error != "" {
		line("Disk", "unknown (%s)", rep.Disk.Error)
	} else {
		line("Disk", "%.1f%% free (%s of %s)", rep.Disk.FreePercent,
			formatBytes(int64(rep.Disk.FreeBytes)), formatBytes(int64(rep.Disk.TotalBytes))) //nolint:gosec // disk sizes fit int64
	}

	switch v := rep.Verification; {
	case v == nil:
		line("Verify", "skipped")
	case v.OK:
		line("Verify", "%s ok (%s, %d files)", v.Artifact, v.Parameters, v.FileCount)
	default:
		line("Verify", "%s FAILED", v.Artifact)
	}

	if last := rep.LastRun; last != nil {
		line("Last run", "%s %s at %s (%s)", last.RunID, last.Outcome,
			last.FinishedAt.UTC().Format(time.RFC3339), last.Duration().Round(time.Second))
	} else {
		line("Last run", "none recorded")
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Warnings) == 0 {
		_, err := fmt.Fprintln(w, "\nOK: no warnings")
		return err
	}
	if _, err := fmt.Fprintf(w, "\n%d warning(s):\n", len(rep.Warnings)); err != nil {
		return err
	}
	for _, warn := range rep.Warnings {
		if _, err := fmt.Fprintf(w, "  [%s] %s\n", warn.Code, warn.Message); err != nil {
			return err
		}
	}
	return nil
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
