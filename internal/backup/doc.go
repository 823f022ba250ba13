// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package backup runs one backup lifecycle: lock, export, encrypt, transfer,
// retention and schedule registration.
//
// # Overview
//
// A run is an explicit state machine:
//
//	Idle -> Locked -> Exported -> Encrypted -> (Uploaded | LocalOnly)
//	     -> Retained -> ScheduleEnsured -> Done
//
// Failed is reachable from every state except Done. Export and encryption
// failures are fatal; remote transfer, retention and schedule registration
// failures degrade the run but never fail it, because local durability must
// not depend on remote availability.
//
// # Rollback
//
// Files created by the current run are registered as they are created and
// removed if the run fails or is canceled before the encrypted artifact is
// complete. Previously completed artifacts are never touched. The plaintext
// export is deleted as soon as encryption succeeds.
//
// # Architecture
//
//	┌──────────┐   ┌──────────┐   ┌──────────┐   ┌──────────┐   ┌───────────┐
//	│   lock   │──▶│  export  │──▶│  crypto  │──▶│ transfer │──▶│ retention │
//	└──────────┘   └──────────┘   └──────────┘   └──────────┘   └───────────┘
//	                                                                  │
//	                     runs.json ◀── Manager ◀── schedule ◀─────────┘
//
// # Usage
//
//	m, err := backup.NewManager(cfg, backup.Dependencies{
//		Lock:      lock.New(path, lock.HostProcessTable{}),
//		Exporter:  export.NewCommandExporter(cfg.Export.Command, cfg.Export.Timeout),
//		Envelope:  crypto.NewEnvelope(crypto.NativeCipher{}, crypto.DefaultSuite()),
//		Pruner:    retention.NewPruner(policy),
//		Scheduler: schedule.NewCrontab(),
//	})
//	result, err := m.Run(ctx)
package backup
