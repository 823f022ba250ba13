// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessTable answers whether a PID belongs to a running process.
type ProcessTable interface {
	IsAlive(ctx context.Context, pid int) (bool, error)
}

// HostProcessTable queries the host process table through gopsutil.
type HostProcessTable struct{}

// IsAlive implements ProcessTable.
func (HostProcessTable) IsAlive(ctx context.Context, pid int) (bool, error) {
	if pid <= 0 || pid > math.MaxInt32 {
		return false, nil
	}
	return process.PidExistsWithContext(ctx, int32(pid))
}

// ProcessTableFunc adapts a function to ProcessTable.
type ProcessTableFunc func(ctx context.Context, pid int) (bool, error)

// IsAlive implements ProcessTable.
func (f ProcessTableFunc) IsAlive(ctx context.Context, pid int) (bool, error) {
	return f(ctx, pid)
}
