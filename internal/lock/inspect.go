// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// Status is the observed state of the lock.
type Status int

const (
	StatusFree Status = iota
	StatusHeld
	StatusStale
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusHeld:
		return "held"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a read-only snapshot of the lock marker.
type State struct {
	Status Status  `json:"status"`
	Marker *Marker `json:"marker,omitempty"`
}

// Inspect reports the lock state without modifying it. A marker that
// disappears while being read is reported as free.
func (l *Lock) Inspect(ctx context.Context) (State, error) {
	m, err := readMarker(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{Status: StatusFree}, nil
	}
	if err != nil {
		return State{Status: StatusStale}, nil
	}
	if m.PID <= 0 {
		return State{Status: StatusStale, Marker: &m}, nil
	}

	alive, err := l.procs.IsAlive(ctx, m.PID)
	if err != nil {
		return State{}, fmt.Errorf("failed to check lock holder pid %d: %w", m.PID, err)
	}
	if alive {
		return State{Status: StatusHeld, Marker: &m}, nil
	}
	return State{Status: StatusStale, Marker: &m}, nil
}
