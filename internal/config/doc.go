// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package config provides centralized configuration management for snapvault.

Configuration is layered with koanf, lowest priority first:

 1. Built-in defaults (defaultConfig)
 2. YAML config file ($SNAPVAULT_CONFIG, ./snapvault.yaml, /etc/snapvault/config.yaml)
 3. Environment variables (see envMappings)

The result is validated with go-playground/validator struct tags plus the
passphrase policy. Every load or validation failure wraps ErrConfig so the
CLI can exit with the configuration exit code before any side effect.

# Environment Variables

Core:
  - BACKUP_PASSWORD: cipher passphrase (required, 12+ characters)
  - BACKUP_DIR: local artifact directory (default: /var/backups/snapvault)
  - STATE_DIR: lock marker and run journal (default: /var/lib/snapvault)
  - EXPORT_COMMAND: shell command producing the export; {dest} is replaced (required)
  - EXPORT_TIMEOUT: export deadline, 0 disables (default: 0)

Retention:
  - RETENTION_POLICY: maximum artifact age in days (default: 14)
  - RETENTION_MIN_KEEP: newest local artifacts never pruned (default: 1)

Remote transfer:
  - REMOTE_BACKEND: s3 or dir (default: s3)
  - S3_BUCKET: enables remote transfer for the s3 backend
  - S3_REGION, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY: required with S3_BUCKET
  - S3_PREFIX (default: backups), S3_ENDPOINT, AWS_CLI_PATH (default: aws)
  - REMOTE_DIR: enables remote transfer for the dir backend
  - REMOTE_TIMEOUT: per-call deadline (default: 30m)
  - REMOTE_DELETE_RATE: remote deletes per second while pruning (default: 5)

Cipher, schedule, host:
  - CIPHER_BACKEND: openssl or native (default: openssl), OPENSSL_PATH
  - SCHEDULE_ENABLED (default: true), SCHEDULE_CRON (default: "0 3 * * *"), SCHEDULE_COMMAND
  - DISK_MIN_FREE_PERCENT (default: 10), DISK_WARN_FREE_PERCENT (default: 20)
  - METRICS_TEXTFILE: node_exporter textfile path
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Persistence

Save writes the effective configuration as YAML with owner-only permissions
(0600) through a temp file and rename. Check reports problems that do not
prevent loading, such as a config file readable by group or others.
*/
package config
