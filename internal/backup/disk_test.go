// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"testing"
)

func TestCheckSpace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		usage   DiskUsage
		min     float64
		wantErr bool
	}{
		{"plenty", DiskUsage{Total: 1000, Free: 500}, 10, false},
		{"exactly at minimum", DiskUsage{Total: 1000, Free: 250}, 25, false},
		{"below minimum", DiskUsage{Total: 1000, Free: 125}, 25, true},
		{"check disabled", DiskUsage{Total: 1000, Free: 0}, 0, false},
		{"unknown total", DiskUsage{}, 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			probe := DiskProbeFunc(func(context.Context, string) (DiskUsage, error) {
				return tt.usage, nil
			})
			_, err := CheckSpace(context.Background(), probe, "/var/backups", tt.min)
			if got := errors.Is(err, ErrInsufficientSpace); got != tt.wantErr {
				t.Errorf("CheckSpace err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckSpace_ProbeError(t *testing.T) {
	t.Parallel()

	probe := DiskProbeFunc(func(context.Context, string) (DiskUsage, error) {
		return DiskUsage{}, errors.New("no such device")
	})
	_, err := CheckSpace(context.Background(), probe, "/var/backups", 10)
	if err == nil || errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("expected plain probe error, got %v", err)
	}
}

func TestHostDiskProbe(t *testing.T) {
	t.Parallel()

	usage, err := HostDiskProbe{}.Usage(context.Background(), t.TempDir())
	if err != nil {
		t.Skipf("disk usage unavailable: %v", err)
	}
	if usage.Total == 0 || usage.Free > usage.Total {
		t.Errorf("implausible usage: %+v", usage)
	}
	if p := usage.FreePercent(); p < 0 || p > 100 {
		t.Errorf("FreePercent = %v", p)
	}
}
