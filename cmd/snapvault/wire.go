// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
wire.go - Component Construction

Builds the concrete collaborators of the backup manager, restore engine and
status reporter from a validated configuration:

  - Cipher: in-process openssl-compatible primitive or the openssl binary,
    both behind the default parameter suite (v3 current, v2 and v1 legacy)
  - Remote store: aws CLI or mounted directory, wrapped in a circuit breaker
    that bounds each call by REMOTE_TIMEOUT; nil when no remote is configured
  - Pruner: RETENTION_POLICY and RETENTION_MIN_KEEP with remote deletions
    throttled to REMOTE_DELETE_RATE per second
  - Lock: marker in STATE_DIR, liveness from the host process table
  - Scheduler: the invoking user's crontab
*/

//nolint:staticcheck // File documentation, not package doc
package main

import (
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/export"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/restore"
	"github.com/tomtom215/snapvault/internal/retention"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/transfer"
)

func buildEnvelope(cfg *config.Config) *crypto.Envelope {
	var c crypto.Cipher = crypto.NativeCipher{}
	if cfg.Cipher.Backend == config.CipherOpenSSL {
		c = crypto.NewExecCipher(cfg.Cipher.OpenSSLPath)
	}
	return crypto.NewEnvelope(c, crypto.DefaultSuite())
}

// buildStore returns the configured remote store, or nil when remote
// transfer is disabled.
func buildStore(cfg *config.Config) transfer.Store {
	if !cfg.RemoteEnabled() {
		return nil
	}

	var store transfer.Store
	switch cfg.Remote.Backend {
	case config.BackendS3:
		s3 := cfg.Remote.S3
		store = &transfer.AWSCLIStore{
			Bucket:          s3.Bucket,
			Region:          s3.Region,
			AccessKeyID:     s3.AccessKeyID,
			SecretAccessKey: s3.SecretAccessKey,
			Endpoint:        s3.Endpoint,
			CLIPath:         s3.CLIPath,
		}
	case config.BackendDir:
		store = &transfer.DirStore{Root: cfg.Remote.Dir}
	default:
		return nil
	}

	return transfer.NewBreakerStore(store, transfer.BreakerSettings{
		Name:    "remote-" + cfg.Remote.Backend,
		Timeout: cfg.Remote.Timeout,
	})
}

func buildPruner(cfg *config.Config) *retention.Pruner {
	return retention.NewPruner(
		retention.Policy{MaxAgeDays: cfg.Retention.MaxAgeDays, MinKeep: cfg.Retention.MinKeep},
		retention.WithDeleteRate(cfg.Remote.DeleteRate),
	)
}

func buildLock(cfg *config.Config) *lock.Lock {
	return lock.New(cfg.LockPath(), lock.HostProcessTable{})
}

func buildManager(cfg *config.Config) (*backup.Manager, error) {
	deps := backup.Dependencies{
		Lock:     buildLock(cfg),
		Exporter: export.NewCommandExporter(cfg.Export.Command, cfg.Export.Timeout),
		Envelope: buildEnvelope(cfg),
		Pruner:   buildPruner(cfg),
	}
	if store := buildStore(cfg); store != nil {
		deps.Store = store
	}
	if cfg.Schedule.Enabled {
		deps.Scheduler = schedule.NewCrontab()
	}
	return backup.NewManager(cfg, deps)
}

func buildEngine(cfg *config.Config, scratchDir string) *restore.Engine {
	return restore.NewEngine(buildEnvelope(cfg), restore.WithScratchDir(scratchDir))
}
