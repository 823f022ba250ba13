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
)

func newRunCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backup lifecycle: export, encrypt, upload, prune",
		Long: `Run one backup lifecycle.

The export is encrypted into BACKUP_DIR, uploaded when a remote is configured
and then pruned per the retention policy. A failed upload keeps the artifact
locally and still exits 0; the result is reported as degraded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			mgr, err := buildManager(cfg)
			if err != nil {
				return err
			}

			res, runErr := mgr.Run(cmd.Context())
			if res != nil {
				var outErr error
				if asJSON {
					outErr = writeJSON(cmd.OutOrStdout(), res)
				} else {
					outErr = writeRunSummary(cmd.OutOrStdout(), res)
				}
				if runErr == nil {
					runErr = outErr
				}
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run result as JSON")
	return cmd
}

func writeRunSummary(w io.Writer, res *backup.RunResult) error {
	if res.Outcome == "" {
		return nil
	}
	if _, err := fmt.Fprintf(w, "run %s: %s in %s\n", res.RunID, res.Outcome, roundDuration(res.Duration())); err != nil {
		return err
	}
	if a := res.Artifact; a != nil {
		where := a.Location.LocalPath
		if a.Location.Key != "" {
			where = a.Location.Bucket + "/" + a.Location.Key
		}
		if _, err := fmt.Fprintf(w, "  artifact: %s (%s)\n", a.Name(), where); err != nil {
			return err
		}
	}
	for _, warn := range res.Warnings {
		if _, err := fmt.Fprintf(w, "  warning: %s\n", warn); err != nil {
			return err
		}
	}
	return nil
}
