// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/status"
)

func newStatusCmd(g *globals) *cobra.Command {
	var (
		asJSON   bool
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report artifacts, lock, schedule, disk and verification health",
		Long: `Print a read-only health report. Findings are listed as warnings and do
not change the exit status; only an unusable configuration fails the command.
The newest local artifact is test-decrypted unless --no-verify is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := config.LoadUnvalidated(g.configPath)
			if err != nil {
				return err
			}
			g.initLogging(cfg)

			deps := status.Dependencies{
				Lock:  buildLock(cfg),
				Store: buildStore(cfg),
			}
			if cfg.Schedule.Enabled {
				deps.Scheduler = schedule.NewCrontab()
			}
			if !noVerify {
				deps.Verifier = buildEngine(cfg, "")
			}

			reporter, err := status.NewReporter(cfg, deps)
			if err != nil {
				return err
			}
			rep, err := reporter.Report(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return status.WriteJSON(cmd.OutOrStdout(), rep)
			}
			return status.WriteText(cmd.OutOrStdout(), rep)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip test-decrypting the newest artifact")
	return cmd
}
