// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/disk"
)

// ErrInsufficientSpace is returned when the backup directory has less free
// space than the configured minimum.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// InsufficientSpaceError carries the measured and required free space.
type InsufficientSpaceError struct {
	Path        string
	FreePercent float64
	MinPercent  float64
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("%s: %s has %.1f%% free, need %.1f%%",
		ErrInsufficientSpace, e.Path, e.FreePercent, e.MinPercent)
}

// Unwrap lets errors.Is match ErrInsufficientSpace.
func (e *InsufficientSpaceError) Unwrap() error {
	return ErrInsufficientSpace
}

// DiskUsage is a filesystem capacity snapshot in bytes.
type DiskUsage struct {
	Total uint64 `json:"total_bytes"`
	Free  uint64 `json:"free_bytes"`
}

// FreePercent returns free space as a percentage of total.
func (u DiskUsage) FreePercent() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Free) / float64(u.Total) * 100
}

// DiskProbe reports filesystem usage for a path.
type DiskProbe interface {
	Usage(ctx context.Context, path string) (DiskUsage, error)
}

// HostDiskProbe reads usage from the host with gopsutil.
type HostDiskProbe struct{}

// Usage implements DiskProbe.
func (HostDiskProbe) Usage(ctx context.Context, path string) (DiskUsage, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return DiskUsage{}, fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}
	return DiskUsage{Total: stat.Total, Free: stat.Free}, nil
}

// DiskProbeFunc adapts a function to DiskProbe.
type DiskProbeFunc func(ctx context.Context, path string) (DiskUsage, error)

// Usage implements DiskProbe.
func (f DiskProbeFunc) Usage(ctx context.Context, path string) (DiskUsage, error) {
	return f(ctx, path)
}

// CheckSpace returns an *InsufficientSpaceError when path has less than
// minPercent free. A zero minimum disables the check.
func CheckSpace(ctx context.Context, probe DiskProbe, path string, minPercent float64) (DiskUsage, error) {
	usage, err := probe.Usage(ctx, path)
	if err != nil {
		return DiskUsage{}, err
	}
	if minPercent > 0 && usage.FreePercent() < minPercent {
		return usage, &InsufficientSpaceError{
			Path:        path,
			FreePercent: usage.FreePercent(),
			MinPercent:  minPercent,
		}
	}
	return usage, nil
}
