// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/snapvault/internal/command"
)

// LockFile is the process lock marker name inside the state directory.
const LockFile = "snapvault.lock"

// ErrConfig marks missing or invalid configuration.
var ErrConfig = errors.New("configuration error")

// Remote backend names.
const (
	BackendS3  = "s3"
	BackendDir = "dir"
)

// Cipher backend names.
const (
	CipherNative  = "native"
	CipherOpenSSL = "openssl"
)

// Config holds the complete snapvault configuration.
type Config struct {
	Backup    BackupConfig    `koanf:"backup"`
	Export    ExportConfig    `koanf:"export"`
	Retention RetentionConfig `koanf:"retention"`
	Remote    RemoteConfig    `koanf:"remote"`
	Cipher    CipherConfig    `koanf:"cipher"`
	Schedule  ScheduleConfig  `koanf:"schedule"`
	Disk      DiskConfig      `koanf:"disk"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// BackupConfig holds the passphrase and host-local paths.
type BackupConfig struct {
	Password string `koanf:"password" validate:"required"`
	Dir      string `koanf:"dir" validate:"required"`
	StateDir string `koanf:"state_dir" validate:"required"`
}

// ExportConfig describes the external database export command.
type ExportConfig struct {
	Command string        `koanf:"command" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// RetentionConfig holds the age-based pruning policy.
type RetentionConfig struct {
	MaxAgeDays int `koanf:"max_age_days" validate:"gte=0"`
	MinKeep    int `koanf:"min_keep" validate:"gte=0"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Backend    string        `koanf:"backend" validate:"oneof=s3 dir"`
	Dir        string        `koanf:"dir"`
	Timeout    time.Duration `koanf:"timeout" validate:"gt=0"`
	DeleteRate float64       `koanf:"delete_rate" validate:"gt=0"`
	S3         S3Config      `koanf:"s3"`
}

// S3Config configures the aws CLI backed store. A bucket gates the rest.
type S3Config struct {
	Bucket          string `koanf:"bucket"`
	Region          string `koanf:"region" validate:"required_with=Bucket"`
	AccessKeyID     string `koanf:"access_key_id" validate:"required_with=Bucket"`
	SecretAccessKey string `koanf:"secret_access_key" validate:"required_with=Bucket"`
	Prefix          string `koanf:"prefix"`
	Endpoint        string `koanf:"endpoint" validate:"omitempty,url"`
	CLIPath         string `koanf:"cli_path" validate:"required"`
}

// CipherConfig selects the cipher implementation.
type CipherConfig struct {
	Backend     string `koanf:"backend" validate:"oneof=native openssl"`
	OpenSSLPath string `koanf:"openssl_path" validate:"required"`
}

// ScheduleConfig controls host crontab registration.
type ScheduleConfig struct {
	Enabled bool   `koanf:"enabled"`
	Cron    string `koanf:"cron" validate:"required_if=Enabled true,cronexpr"`
	Command string `koanf:"command" validate:"required_if=Enabled true"`
}

// DiskConfig holds free-space thresholds for BACKUP_DIR, in percent.
type DiskConfig struct {
	MinFreePercent  float64 `koanf:"min_free_percent" validate:"gte=0,lte=100"`
	WarnFreePercent float64 `koanf:"warn_free_percent" validate:"gte=0,lte=100"`
}

// MetricsConfig controls the node_exporter textfile output.
type MetricsConfig struct {
	Textfile string `koanf:"textfile"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RemoteEnabled reports whether remote transfer is configured for the
// selected backend.
func (c *Config) RemoteEnabled() bool {
	switch c.Remote.Backend {
	case BackendS3:
		return c.Remote.S3.Bucket != ""
	case BackendDir:
		return c.Remote.Dir != ""
	default:
		return false
	}
}

// RemotePrefix returns the key prefix for remote artifacts without
// surrounding slashes.
func (c *Config) RemotePrefix() string {
	return strings.Trim(c.Remote.S3.Prefix, "/")
}

// LockPath returns the process lock marker path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Backup.StateDir, LockFile)
}

// defaultScheduleCommand returns "<absolute executable> run".
func defaultScheduleCommand() string {
	return ScheduleCommand("")
}

// ScheduleCommand returns the crontab command for a run. Cron starts jobs in
// $HOME without the invoking environment, so a config file outside the
// search path is passed with --config.
func ScheduleCommand(configPath string) string {
	exe, err := os.Executable()
	if err != nil || exe == "" {
		exe = "snapvault"
	}
	if configPath == "" {
		return exe + " run"
	}
	return exe + " --config " + command.ShellQuote(configPath) + " run"
}
