// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/retention"
)

func newPruneCmd(g *globals) *cobra.Command {
	var (
		dryRun bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Apply the retention policy without taking a backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := buildManager(cfg)
			if err != nil {
				return err
			}

			res, err := mgr.Prune(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			return writePruneSummary(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List what would be deleted without deleting")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func writePruneSummary(w io.Writer, res *backup.PruneResult) error {
	fmt.Fprintf(w, "Policy: older than %d days, keep newest %d\n", res.Policy.MaxAgeDays, res.Policy.MinKeep)

	if res.DryRun {
		writeCandidates(w, "local", res.LocalCandidates)
		if res.Remote != nil {
			writeCandidates(w, res.Remote.Location, res.RemoteCandidates)
		}
		return nil
	}

	writeResult(w, res.Local)
	if res.Remote != nil {
		writeResult(w, *res.Remote)
	}
	return nil
}

func writeCandidates(w io.Writer, where string, cs []retention.Candidate) {
	fmt.Fprintf(w, "Would delete %d from %s\n", len(cs), where)
	for _, c := range cs {
		fmt.Fprintf(w, "  %s (%d days)\n", c.Name, c.AgeDays)
	}
}

func writeResult(w io.Writer, r retention.Result) {
	fmt.Fprintf(w, "%s: considered %d, deleted %d, failed %d\n", r.Location, r.Considered, r.Deleted, r.Failed)
}
