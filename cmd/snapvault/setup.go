// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/schedule"
)

// setupTarget is written when neither --config nor an existing file names
// one.
const setupTarget = "/etc/snapvault/config.yaml"

// setting binds a setup flag to one configuration field.
type setting[T any] struct {
	flag  string
	usage string
	field func(*config.Config) *T
}

func (s setting[T]) apply(cfg *config.Config, flags *pflag.FlagSet, v *T) {
	if flags.Changed(s.flag) {
		*s.field(cfg) = *v
	}
}

var stringSettings = []setting[string]{
	{"backup-dir", "Local artifact directory (BACKUP_DIR)", func(c *config.Config) *string { return &c.Backup.Dir }},
	{"state-dir", "Lock and journal directory (STATE_DIR)", func(c *config.Config) *string { return &c.Backup.StateDir }},
	{"export-command", "Database export command (EXPORT_COMMAND)", func(c *config.Config) *string { return &c.Export.Command }},
	{"remote-backend", "Remote backend: s3 or dir (REMOTE_BACKEND)", func(c *config.Config) *string { return &c.Remote.Backend }},
	{"remote-dir", "Remote directory for the dir backend (REMOTE_DIR)", func(c *config.Config) *string { return &c.Remote.Dir }},
	{"s3-bucket", "S3 bucket (S3_BUCKET)", func(c *config.Config) *string { return &c.Remote.S3.Bucket }},
	{"s3-region", "S3 region (S3_REGION)", func(c *config.Config) *string { return &c.Remote.S3.Region }},
	{"s3-prefix", "S3 key prefix (S3_PREFIX)", func(c *config.Config) *string { return &c.Remote.S3.Prefix }},
	{"s3-endpoint", "S3-compatible endpoint URL (S3_ENDPOINT)", func(c *config.Config) *string { return &c.Remote.S3.Endpoint }},
	{"aws-access-key-id", "Access key ID (AWS_ACCESS_KEY_ID)", func(c *config.Config) *string { return &c.Remote.S3.AccessKeyID }},
	{"aws-secret-access-key", "Secret access key (AWS_SECRET_ACCESS_KEY)", func(c *config.Config) *string { return &c.Remote.S3.SecretAccessKey }},
	{"aws-cli-path", "aws binary (AWS_CLI_PATH)", func(c *config.Config) *string { return &c.Remote.S3.CLIPath }},
	{"cipher-backend", "Cipher backend: openssl or native (CIPHER_BACKEND)", func(c *config.Config) *string { return &c.Cipher.Backend }},
	{"openssl-path", "openssl binary for the openssl backend (OPENSSL_PATH)", func(c *config.Config) *string { return &c.Cipher.OpenSSLPath }},
	{"schedule-cron", "Cron expression for scheduled runs (SCHEDULE_CRON)", func(c *config.Config) *string { return &c.Schedule.Cron }},
	{"schedule-command", "Command registered in crontab (SCHEDULE_COMMAND)", func(c *config.Config) *string { return &c.Schedule.Command }},
	{"metrics-textfile", "node_exporter textfile path (METRICS_TEXTFILE)", func(c *config.Config) *string { return &c.Metrics.Textfile }},
	{"set-log-level", "Saved log level (LOG_LEVEL)", func(c *config.Config) *string { return &c.Logging.Level }},
	{"set-log-format", "Saved log format: console or json (LOG_FORMAT)", func(c *config.Config) *string { return &c.Logging.Format }},
}

var intSettings = []setting[int]{
	{"retention-days", "Delete artifacts older than this many days (RETENTION_POLICY)", func(c *config.Config) *int { return &c.Retention.MaxAgeDays }},
	{"min-keep", "Always keep this many newest artifacts (RETENTION_MIN_KEEP)", func(c *config.Config) *int { return &c.Retention.MinKeep }},
}

var floatSettings = []setting[float64]{
	{"remote-delete-rate", "Remote deletions per second (REMOTE_DELETE_RATE)", func(c *config.Config) *float64 { return &c.Remote.DeleteRate }},
	{"disk-min-free-percent", "Refuse to run below this free space (DISK_MIN_FREE_PERCENT)", func(c *config.Config) *float64 { return &c.Disk.MinFreePercent }},
	{"disk-warn-free-percent", "Warn below this free space (DISK_WARN_FREE_PERCENT)", func(c *config.Config) *float64 { return &c.Disk.WarnFreePercent }},
}

var durationSettings = []setting[time.Duration]{
	{"export-timeout", "Export command timeout, 0 for none (EXPORT_TIMEOUT)", func(c *config.Config) *time.Duration { return &c.Export.Timeout }},
	{"remote-timeout", "Per-call remote timeout (REMOTE_TIMEOUT)", func(c *config.Config) *time.Duration { return &c.Remote.Timeout }},
}

var boolSettings = []setting[bool]{
	{"schedule", "Enable scheduled runs (SCHEDULE_ENABLED)", func(c *config.Config) *bool { return &c.Schedule.Enabled }},
	{"set-log-caller", "Saved caller logging (LOG_CALLER)", func(c *config.Config) *bool { return &c.Logging.Caller }},
}

func newSetupCmd(g *globals) *cobra.Command {
	var (
		passwordStdin bool
		noSchedule    bool
	)
	strs := make([]*string, len(stringSettings))
	ints := make([]*int, len(intSettings))
	floats := make([]*float64, len(floatSettings))
	durations := make([]*time.Duration, len(durationSettings))
	bools := make([]*bool, len(boolSettings))

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write the configuration file and register the schedule",
		Long: `Write the configuration file with owner-only permissions.

Values come from the existing file and environment, overridden by the flags
given here. The passphrase is read from BACKUP_PASSWORD or, with
--password-stdin, from the first line of standard input. When scheduling is
enabled the run command is registered in the invoking user's crontab.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, target, err := loadSetupBase(g.configPath)
			if err != nil {
				return err
			}
			g.initLogging(cfg)

			flags := cmd.Flags()
			for i, s := range stringSettings {
				s.apply(cfg, flags, strs[i])
			}
			for i, s := range intSettings {
				s.apply(cfg, flags, ints[i])
			}
			for i, s := range floatSettings {
				s.apply(cfg, flags, floats[i])
			}
			for i, s := range durationSettings {
				s.apply(cfg, flags, durations[i])
			}
			for i, s := range boolSettings {
				s.apply(cfg, flags, bools[i])
			}
			if passwordStdin {
				pw, err := readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
				cfg.Backup.Password = pw
			}
			if g.configPath != "" && !flags.Changed("schedule-command") && cfg.Schedule.Command == config.ScheduleCommand("") {
				abs, err := filepath.Abs(target)
				if err != nil {
					return fmt.Errorf("failed to resolve %s: %w", target, err)
				}
				cfg.Schedule.Command = config.ScheduleCommand(abs)
			}

			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg, target); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote %s (mode %04o)\n", target, config.FileMode)

			if !cfg.Schedule.Enabled || noSchedule {
				fmt.Fprintln(out, "Schedule: not registered")
				return nil
			}
			outcome, err := schedule.Ensure(cmd.Context(), schedule.NewCrontab(), cfg.Schedule.Cron, cfg.Schedule.Command)
			if err != nil {
				return fmt.Errorf("configuration saved but schedule registration failed: %w", err)
			}
			fmt.Fprintf(out, "Schedule: %s (%s %s)\n", outcome, cfg.Schedule.Cron, cfg.Schedule.Command)
			return nil
		},
	}

	for i, s := range stringSettings {
		strs[i] = cmd.Flags().String(s.flag, "", s.usage)
	}
	for i, s := range intSettings {
		ints[i] = cmd.Flags().Int(s.flag, 0, s.usage)
	}
	for i, s := range floatSettings {
		floats[i] = cmd.Flags().Float64(s.flag, 0, s.usage)
	}
	for i, s := range durationSettings {
		durations[i] = cmd.Flags().Duration(s.flag, 0, s.usage)
	}
	for i, s := range boolSettings {
		bools[i] = cmd.Flags().Bool(s.flag, false, s.usage)
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the backup passphrase from standard input")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Save the configuration without touching the crontab")
	return cmd
}

// loadSetupBase returns the configuration to start from and the file to
// write. An explicit path that does not exist yet starts from the defaults
// and the environment.
func loadSetupBase(path string) (*config.Config, string, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cfg, err := config.LoadWithoutFile()
			if err != nil {
				return nil, "", err
			}
			return cfg, path, nil
		}
	}
	cfg, used, err := config.LoadUnvalidated(path)
	if err != nil {
		return nil, "", err
	}
	switch {
	case path != "":
		return cfg, path, nil
	case used != "":
		return cfg, used, nil
	default:
		return cfg, setupTarget, nil
	}
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", fmt.Errorf("%w: empty passphrase on standard input", config.ErrConfig)
	}
	return pw, nil
}
