// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package restore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

const (
	// DefaultManifestEntries is the number of entry names listed in a manifest.
	DefaultManifestEntries = 20

	// DefaultMaxEntrySize bounds a single extracted file.
	DefaultMaxEntrySize int64 = 64 << 30

	scratchPattern = "snapvault-restore-*"
	plainName      = "artifact.zip"
)

var (
	// ErrRestore is returned when decrypted content fails the structural
	// check or cannot be extracted.
	ErrRestore = errors.New("restore failed")

	// ErrNotFound is returned when a named artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrNoArtifacts is returned when selection finds no artifacts at all.
	ErrNoArtifacts = errors.New("no artifacts found")

	errExtract = errors.New("extraction failed")
)

// Mode selects what Restore does after a successful decrypt.
type Mode int

const (
	// TestOnly decrypts and checks, then discards the plaintext.
	TestOnly Mode = iota
	// Extract unpacks the checked archive into the output directory.
	Extract
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case TestOnly:
		return "test"
	case Extract:
		return "extract"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	for candidate := TestOnly; candidate <= Extract; candidate++ {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown restore mode %q", text)
}

// Entry is one file listed in a manifest.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size_bytes"`
	Modified time.Time `json:"modified"`
}

// Manifest summarizes a verified or restored artifact.
type Manifest struct {
	Artifact   string        `json:"artifact"`
	Mode       Mode          `json:"mode"`
	Parameters string        `json:"parameters"`
	Attempts   int           `json:"attempts"`
	FileCount  int           `json:"file_count"`
	TotalBytes int64         `json:"total_bytes"`
	Entries    []Entry       `json:"entries"`
	OutputDir  string        `json:"output_dir,omitempty"`
	Extracted  int           `json:"extracted,omitempty"`
	Skipped    []string      `json:"skipped,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// Truncated reports whether the manifest lists fewer entries than the
// archive holds.
func (m *Manifest) Truncated() bool {
	return m.FileCount > len(m.Entries)
}

// Engine verifies and restores artifacts through a crypto envelope.
type Engine struct {
	envelope     *crypto.Envelope
	scratchDir   string
	listEntries  int
	maxEntrySize int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithScratchDir sets the parent of per-call scratch directories. It must
// not be the backup directory, whose leftover sweep would race with an
// in-progress restore. The default is the system temp directory.
func WithScratchDir(dir string) Option {
	return func(e *Engine) { e.scratchDir = dir }
}

// WithManifestEntries sets how many entry names a manifest lists.
func WithManifestEntries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.listEntries = n
		}
	}
}

// WithMaxEntrySize sets the largest file Extract will write.
func WithMaxEntrySize(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxEntrySize = n
		}
	}
}

// NewEngine creates an engine that decrypts with envelope.
func NewEngine(envelope *crypto.Envelope, opts ...Option) *Engine {
	e := &Engine{
		envelope:     envelope,
		listEntries:  DefaultManifestEntries,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify decrypts artifactPath, checks the archive structure and discards
// the plaintext.
func (e *Engine) Verify(ctx context.Context, artifactPath, passphrase string) (*Manifest, error) {
	return e.Restore(ctx, artifactPath, passphrase, "", TestOnly)
}

// Restore decrypts and checks artifactPath and, in Extract mode, unpacks it
// into outputDir. The source artifact is never modified.
func (e *Engine) Restore(ctx context.Context, artifactPath, passphrase, outputDir string, mode Mode) (*Manifest, error) {
	start := time.Now()
	log := logging.Ctx(ctx).With().
		Str("artifact", filepath.Base(artifactPath)).
		Str("mode", mode.String()).
		Logger()

	manifest, err := e.restore(ctx, artifactPath, passphrase, outputDir, mode)
	outcome := classify(err)
	metrics.RecordRestore(mode.String(), outcome)
	if err != nil {
		log.Error().Err(err).Str("outcome", outcome).Msg("Restore failed")
		return nil, err
	}

	manifest.Duration = time.Since(start)
	log.Info().
		Str("params", manifest.Parameters).
		Int("files", manifest.FileCount).
		Int64("bytes", manifest.TotalBytes).
		Dur("duration", manifest.Duration).
		Msg("Artifact verified")
	return manifest, nil
}

func (e *Engine) restore(ctx context.Context, artifactPath, passphrase, outputDir string, mode Mode) (*Manifest, error) {
	if mode != TestOnly && mode != Extract {
		return nil, fmt.Errorf("unknown restore mode %s", mode)
	}
	if mode == Extract && outputDir == "" {
		return nil, fmt.Errorf("%w: output directory is required", ErrRestore)
	}
	fi, err := os.Stat(artifactPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, artifactPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", artifactPath, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, artifactPath)
	}

	scratch, err := os.MkdirTemp(e.scratchDir, scratchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", scratch).Msg("Failed to remove scratch directory")
		}
	}()

	// The check runs once per decrypt attempt; only the accepted attempt's
	// summary survives.
	var summary *archiveSummary
	check := func(ctx context.Context, path string) error {
		s, err := inspectArchive(ctx, path, e.listEntries)
		if err != nil {
			return err
		}
		summary = s
		return nil
	}

	plain := filepath.Join(scratch, plainName)
	res, err := e.envelope.Decrypt(ctx, artifactPath, passphrase, plain, check)
	if err != nil {
		if errors.Is(err, crypto.ErrCorrupt) {
			return nil, fmt.Errorf("%w: %w", ErrRestore, err)
		}
		return nil, err
	}

	manifest := &Manifest{
		Artifact:   artifactPath,
		Mode:       mode,
		Parameters: res.Parameters.Name,
		Attempts:   res.Attempts,
		FileCount:  summary.files,
		TotalBytes: summary.bytes,
		Entries:    summary.entries,
	}

	if mode == Extract {
		if err := e.extract(ctx, plain, outputDir, manifest); err != nil {
			return nil, fmt.Errorf("%w: %w: %w", ErrRestore, errExtract, err)
		}
	}
	return manifest, nil
}

func classify(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, errExtract):
		return "extract_failed"
	case errors.Is(err, ErrRestore):
		return "corrupt"
	case errors.Is(err, crypto.ErrDecrypt):
		return "decrypt_failed"
	default:
		return "failed"
	}
}
