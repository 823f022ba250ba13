// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"errors"

	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/export"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/restore"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitFailure           = 1
	ExitConfig            = 2
	ExitAlreadyRunning    = 3
	ExitExport            = 4
	ExitInsufficientSpace = 5
	ExitDecrypt           = 6
	ExitRestore           = 7
)

// exitCode maps an error onto the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrConfig):
		return ExitConfig
	case errors.Is(err, lock.ErrAlreadyRunning):
		return ExitAlreadyRunning
	case errors.Is(err, backup.ErrInsufficientSpace):
		return ExitInsufficientSpace
	case errors.Is(err, restore.ErrRestore), errors.Is(err, crypto.ErrCorrupt):
		return ExitRestore
	case errors.Is(err, crypto.ErrDecrypt):
		return ExitDecrypt
	case errors.Is(err, export.ErrExport), errors.Is(err, crypto.ErrEncrypt):
		return ExitExport
	default:
		return ExitFailure
	}
}
