// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/logging"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:           "snapvault",
		Short:         "Encrypted backup orchestration for managed database exports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if g.logLevel != "" && !logging.ValidLevel(g.logLevel) {
				return fmt.Errorf("%w: invalid --log-level %q", config.ErrConfig, g.logLevel)
			}
			g.initLogging(nil)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: $SNAPVAULT_CONFIG, ./snapvault.yaml, /etc/snapvault/config.yaml)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: console or json (overrides LOG_FORMAT)")

	cmd.AddCommand(
		newRunCmd(g),
		newRestoreCmd(g),
		newStatusCmd(g),
		newSetupCmd(g),
		newCheckCmd(g),
		newPruneCmd(g),
	)
	return cmd
}

// initLogging configures the global logger from cfg, with the persistent
// flags taking precedence. A nil cfg uses the logging defaults.
func (g *globals) initLogging(cfg *config.Config) {
	lc := logging.DefaultConfig()
	if cfg != nil {
		lc.Level = cfg.Logging.Level
		lc.Format = cfg.Logging.Format
		lc.Caller = cfg.Logging.Caller
	}
	if g.logLevel != "" {
		lc.Level = g.logLevel
	}
	if g.logFormat != "" {
		lc.Format = g.logFormat
	}
	lc.Output = os.Stderr
	logging.Init(lc)
}

// loadConfig loads and validates the configuration and reconfigures logging
// from it.
func (g *globals) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	g.initLogging(cfg)
	return cfg, nil
}

// loadRestoreConfig loads the configuration with restore's narrower
// validation.
func (g *globals) loadRestoreConfig(needPassphrase bool) (*config.Config, error) {
	cfg, err := config.LoadForRestore(g.configPath, needPassphrase)
	if err != nil {
		return nil, err
	}
	g.initLogging(cfg)
	return cfg, nil
}
