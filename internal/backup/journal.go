// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
journal.go - Run Journal

The journal records the outcome of recent lifecycle runs in runs.json inside
STATE_DIR, newest last. It is written only while the process lock is held and
read without it by status, so every write goes to a temporary file that is
renamed into place.

Journal contents per run:
  - run id, start and finish time, final state and outcome
  - artifact name, stage, size and remote key
  - warnings and the upload error when the run degraded
  - retention summaries and the schedule outcome
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/retention"
)

const (
	// JournalFile is the journal file name inside STATE_DIR.
	JournalFile = "runs.json"

	// DefaultJournalSize is the number of runs kept.
	DefaultJournalSize = 50
)

// Run outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeDegraded       = "degraded"
	OutcomeFailed         = "failed"
	OutcomeAlreadyRunning = "already_running"
)

// RunRecord is one journal entry.
type RunRecord struct {
	RunID           string            `json:"run_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      time.Time         `json:"finished_at"`
	State           State             `json:"state"`
	Outcome         string            `json:"outcome"`
	Artifact        string            `json:"artifact,omitempty"`
	Stage           string            `json:"stage,omitempty"`
	SizeBytes       int64             `json:"size_bytes,omitempty"`
	RemoteKey       string            `json:"remote_key,omitempty"`
	Error           string            `json:"error,omitempty"`
	Warnings        []string          `json:"warnings,omitempty"`
	UploadError     string            `json:"upload_error,omitempty"`
	LocalRetention  *retention.Result `json:"local_retention,omitempty"`
	RemoteRetention *retention.Result `json:"remote_retention,omitempty"`
	Schedule        string            `json:"schedule,omitempty"`
}

// Duration returns the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type journalFile struct {
	Runs []RunRecord `json:"runs"`
}

// Journal is the runs.json store.
type Journal struct {
	path string
	max  int
}

// NewJournal returns a journal in stateDir keeping the last DefaultJournalSize runs.
func NewJournal(stateDir string) *Journal {
	return &Journal{path: filepath.Join(stateDir, JournalFile), max: DefaultJournalSize}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Load returns the recorded runs, oldest first. A missing journal is empty.
func (j *Journal) Load() ([]RunRecord, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run journal: %w", err)
	}

	var f journalFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse run journal %s: %w", j.path, err)
	}
	return f.Runs, nil
}

// Last returns the most recent run, or nil when the journal is empty.
func (j *Journal) Last() (*RunRecord, error) {
	runs, err := j.Load()
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	last := runs[len(runs)-1]
	return &last, nil
}

// Append adds rec and trims the journal to its maximum size. An unreadable
// journal is replaced rather than blocking new records.
func (j *Journal) Append(rec RunRecord) error {
	runs, err := j.Load()
	if err != nil {
		runs = nil
	}
	runs = append(runs, rec)
	if len(runs) > j.max {
		runs = runs[len(runs)-j.max:]
	}

	data, err := json.MarshalIndent(journalFile{Runs: runs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run journal: %w", err)
	}
	return writeFileAtomic(j.path, data, 0o600)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name()) //nolint:errcheck // Best effort cleanup on error
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Write error takes precedence
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close() //nolint:errcheck // Chmod error takes precedence
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
