// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package main is the entry point for the snapvault command.
//
// snapvault produces encrypted, retained and verifiable backups of a managed
// database export, and reverses the process on demand.
//
// # Commands
//
//	snapvault run                       one backup lifecycle run (cron entry point)
//	snapvault restore list              list local (and remote) artifacts
//	snapvault restore verify [name]     test-decrypt and check an artifact
//	snapvault restore test [name]       same as verify
//	snapvault restore extract [name] --output DIR
//	snapvault status [--json]           read-only health report
//	snapvault setup [flags]             write the configuration file (0600)
//	snapvault check                     validate configuration and host
//	snapvault prune [--dry-run]         apply retention without a backup
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (BACKUP_PASSWORD, BACKUP_DIR, S3_BUCKET, ...)
//   - Config file ($SNAPVAULT_CONFIG, ./snapvault.yaml, /etc/snapvault/config.yaml)
//   - Built-in defaults
//
// # Exit Codes
//
//	0  success (including degraded runs)
//	1  generic failure
//	2  configuration error
//	3  another run holds the lock
//	4  export or encryption failure
//	5  insufficient disk space
//	6  decryption failure
//	7  restore/verify structural failure
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the command context. A backup run in progress
// rolls back its own partial artifact and releases the lock; a completed
// encrypted artifact is kept.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "snapvault: %v\n", err)
		os.Exit(exitCode(err))
	}
}
