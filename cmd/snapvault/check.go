// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/config"
)

func newCheckCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and the host environment",
		Long: `Validate the configuration and inspect the host: config file permissions,
required binaries and writable directories. Nothing is modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, used, err := config.LoadUnvalidated(g.configPath)
			if err != nil {
				return err
			}
			g.initLogging(cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if used == "" {
				fmt.Fprintln(out, "Config: environment only")
			} else {
				fmt.Fprintf(out, "Config: %s\n", used)
			}

			issues := config.Check(cfg, used)
			for _, issue := range issues {
				fmt.Fprintln(out, issue.String())
			}
			if config.HasErrors(issues) {
				return fmt.Errorf("%w: host check failed", config.ErrConfig)
			}
			fmt.Fprintf(out, "OK: %d warning(s)\n", len(issues))
			return nil
		},
	}
	return cmd
}
