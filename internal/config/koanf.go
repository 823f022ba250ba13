// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"snapvault.yaml",
	"/etc/snapvault/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "SNAPVAULT_CONFIG"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Backup: BackupConfig{
			Password: "",
			Dir:      "/var/backups/snapvault",
			StateDir: "/var/lib/snapvault",
		},
		Export: ExportConfig{
			Command: "",
			Timeout: 0, // the export tool owns cancellation
		},
		Retention: RetentionConfig{
			MaxAgeDays: 14,
			MinKeep:    1,
		},
		Remote: RemoteConfig{
			Backend:    BackendS3,
			Timeout:    30 * time.Minute,
			DeleteRate: 5,
			S3: S3Config{
				Prefix:  "backups",
				CLIPath: "aws",
			},
		},
		Cipher: CipherConfig{
			Backend:     CipherOpenSSL,
			OpenSSLPath: "openssl",
		},
		Schedule: ScheduleConfig{
			Enabled: true,
			Cron:    "0 3 * * *",
			Command: defaultScheduleCommand(),
		},
		Disk: DiskConfig{
			MinFreePercent:  10,
			WarnFreePercent: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Caller: false,
		},
	}
}

// Default returns the built-in defaults without loading any source.
func Default() *Config {
	return defaultConfig()
}

// Load loads configuration using koanf with layered sources:
//  1. Built-in defaults (lowest priority)
//  2. Config file, if present
//  3. Environment variables (highest priority)
//
// An explicit path must exist; otherwise the default paths are searched and a
// missing file is not an error. The loaded config is validated.
func Load(path string) (*Config, error) {
	cfg, _, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadForRestore loads configuration like Load but validates only what
// restore needs; see ValidateRestore.
func LoadForRestore(path string, needPassphrase bool) (*Config, error) {
	cfg, _, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateRestore(needPassphrase); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadUnvalidated loads configuration like Load but skips validation and
// returns the file that was used, if any. Used by setup, which fills in
// missing values before validating.
func LoadUnvalidated(path string) (*Config, string, error) {
	return load(path)
}

// LoadWithoutFile layers the environment over the defaults without reading
// any config file. Used by setup when the file it will write does not exist
// yet.
func LoadWithoutFile() (*Config, error) {
	return loadLayers("")
}

func load(path string) (*Config, string, error) {
	configPath := path
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, "", fmt.Errorf("%w: config file %s: %w", ErrConfig, configPath, err)
		}
	} else {
		configPath = findConfigFile()
	}

	cfg, err := loadLayers(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

// loadLayers loads defaults, the file at configPath when non-empty, and the
// environment.
func loadLayers(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load defaults: %w", ErrConfig, err)
	}

	// Layer 2: Load config file (if exists)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: failed to load config file %s: %w", ErrConfig, configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment variables: %w", ErrConfig, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal configuration: %w", ErrConfig, err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envMappings maps lowercased environment variable names to koanf paths.
var envMappings = map[string]string{
	"backup_password": "backup.password",
	"backup_dir":      "backup.dir",
	"state_dir":       "backup.state_dir",

	"export_command": "export.command",
	"export_timeout": "export.timeout",

	"retention_policy":   "retention.max_age_days",
	"retention_min_keep": "retention.min_keep",

	"remote_backend":        "remote.backend",
	"remote_dir":            "remote.dir",
	"remote_timeout":        "remote.timeout",
	"remote_delete_rate":    "remote.delete_rate",
	"s3_bucket":             "remote.s3.bucket",
	"s3_region":             "remote.s3.region",
	"aws_access_key_id":     "remote.s3.access_key_id",
	"aws_secret_access_key": "remote.s3.secret_access_key",
	"s3_prefix":             "remote.s3.prefix",
	"s3_endpoint":           "remote.s3.endpoint",
	"aws_cli_path":          "remote.s3.cli_path",

	"cipher_backend": "cipher.backend",
	"openssl_path":   "cipher.openssl_path",

	"schedule_enabled": "schedule.enabled",
	"schedule_cron":    "schedule.cron",
	"schedule_command": "schedule.command",

	"disk_min_free_percent":  "disk.min_free_percent",
	"disk_warn_free_percent": "disk.warn_free_percent",

	"metrics_textfile": "metrics.textfile",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - BACKUP_PASSWORD -> backup.password
//   - RETENTION_POLICY -> retention.max_age_days
//   - S3_BUCKET -> remote.s3.bucket
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them
	// This prevents random environment variables from polluting config
	return ""
}

// EnvNames returns the environment variable name for every koanf path.
func EnvNames() map[string]string {
	out := make(map[string]string, len(envMappings))
	for envName, path := range envMappings {
		out[path] = strings.ToUpper(envName)
	}
	return out
}
