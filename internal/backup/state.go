// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a run tries to move between states
// that are not connected.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is a lifecycle run state.
type State int

const (
	StateIdle State = iota
	StateLocked
	StateExported
	StateEncrypted
	StateUploaded
	StateLocalOnly
	StateRetained
	StateScheduleEnsured
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocked:
		return "locked"
	case StateExported:
		return "exported"
	case StateEncrypted:
		return "encrypted"
	case StateUploaded:
		return "uploaded"
	case StateLocalOnly:
		return "local_only"
	case StateRetained:
		return "retained"
	case StateScheduleEnsured:
		return "schedule_ensured"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := StateIdle; candidate <= StateFailed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown run state %q", text)
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether a run in state s may move to next.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return !s.Terminal()
	}
	switch s {
	case StateIdle:
		return next == StateLocked
	case StateLocked:
		return next == StateExported
	case StateExported:
		return next == StateEncrypted
	case StateEncrypted:
		return next == StateUploaded || next == StateLocalOnly
	case StateUploaded, StateLocalOnly:
		return next == StateRetained
	case StateRetained:
		return next == StateScheduleEnsured
	case StateScheduleEnsured:
		return next == StateDone
	case StateDone, StateFailed:
		return false
	default:
		return false
	}
}

// machine tracks the current state and the path taken through it.
type machine struct {
	state State
	path  []State
}

func newMachine() *machine {
	return &machine{state: StateIdle, path: []State{StateIdle}}
}

// advance moves to next or returns ErrInvalidTransition.
func (m *machine) advance(next State) error {
	if !m.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	m.state = next
	m.path = append(m.path, next)
	return nil
}
