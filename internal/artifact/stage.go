// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package artifact

import (
	"errors"
	"fmt"
	"time"
)

// ErrStageRegression is returned when a stage change would move backwards.
var ErrStageRegression = errors.New("artifact stage cannot regress")

// Stage is where an artifact is in its lifecycle.
type Stage int

const (
	// StageExported: plaintext export written, not yet encrypted. Transient.
	StageExported Stage = iota + 1
	// StageEncrypted: encrypted artifact complete on local disk.
	StageEncrypted
	// StageUploaded: verified present remotely, local copy removed.
	StageUploaded
	// StageLocalOnly: kept locally because remote transfer is off or failed.
	StageLocalOnly
	// StageDeleted: removed by retention or rollback.
	StageDeleted
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageExported:
		return "exported"
	case StageEncrypted:
		return "encrypted"
	case StageUploaded:
		return "uploaded"
	case StageLocalOnly:
		return "local_only"
	case StageDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Visible reports whether an artifact in this stage may be listed or restored.
func (s Stage) Visible() bool {
	switch s {
	case StageEncrypted, StageUploaded, StageLocalOnly:
		return true
	default:
		return false
	}
}

// canAdvance reports whether next strictly follows s.
func (s Stage) canAdvance(next Stage) bool {
	switch s {
	case 0:
		return next == StageExported
	case StageExported:
		return next == StageEncrypted || next == StageDeleted
	case StageEncrypted:
		return next == StageUploaded || next == StageLocalOnly || next == StageDeleted
	case StageUploaded, StageLocalOnly:
		return next == StageDeleted
	case StageDeleted:
		return false
	default:
		return false
	}
}

// LocationKind says where copies of an artifact live.
type LocationKind int

const (
	LocationNone LocationKind = iota
	LocationLocal
	LocationRemote
	LocationBoth
)

// String returns the location kind name.
func (k LocationKind) String() string {
	switch k {
	case LocationNone:
		return "none"
	case LocationLocal:
		return "local"
	case LocationRemote:
		return "remote"
	case LocationBoth:
		return "both"
	default:
		return fmt.Sprintf("location(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k LocationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Location records the local path and remote key of an artifact.
type Location struct {
	LocalPath string `json:"local_path,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
}

// Kind derives the location kind from which fields are set.
func (l Location) Kind() LocationKind {
	switch {
	case l.LocalPath != "" && l.Key != "":
		return LocationBoth
	case l.LocalPath != "":
		return LocationLocal
	case l.Key != "":
		return LocationRemote
	default:
		return LocationNone
	}
}

// Artifact is one backup unit, identified by its creation timestamp.
type Artifact struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	SizeBytes int64     `json:"size_bytes"`
	Location  Location  `json:"location"`
}

// New returns an artifact that has not reached any stage yet.
func New(t time.Time) *Artifact {
	return &Artifact{Timestamp: t.UTC().Truncate(time.Second)}
}

// Name returns the encrypted file name.
func (a *Artifact) Name() string {
	return FileName(a.Timestamp)
}

// Advance moves the artifact to next. Stages only move forward.
func (a *Artifact) Advance(next Stage) error {
	if !a.Stage.canAdvance(next) {
		return fmt.Errorf("%w: %s -> %s", ErrStageRegression, a.Stage, next)
	}
	a.Stage = next
	return nil
}
