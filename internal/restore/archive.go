// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
archive.go - Archive Structural Check and Extraction

The structural check opens the zip central directory and reads every entry
to the end, so the reader verifies each entry's CRC-32 and declared size.
An archive with no regular files fails the check: an export that produced an
empty container is not a usable backup.

Extraction Guards:
  - Entry names must be local paths (no absolute paths, no "..", no volume
    names) and must resolve under the output directory
  - Files are created with O_EXCL, so an existing file is never overwritten
  - Each entry is limited to the engine's maximum size and copied through a
    LimitReader of its declared size plus one byte
  - Symlinks and other special entries are skipped and listed in the manifest
  - Files written before a failure are removed again
*/

//nolint:staticcheck // File documentation, not package doc
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/tomtom215/snapvault/internal/logging"
)

// archiveSummary is what the structural check learned about an archive.
type archiveSummary struct {
	files   int
	bytes   int64
	entries []Entry
}

// inspectArchive performs the structural check on the zip archive at path
// and lists up to maxListed regular files.
func inspectArchive(ctx context.Context, path string, maxListed int) (*archiveSummary, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("not a readable zip archive: %w", err)
	}
	defer r.Close() //nolint:errcheck // read-only

	summary := &archiveSummary{}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := readEntry(f); err != nil {
			return nil, err
		}
		if !f.Mode().IsRegular() {
			continue
		}
		summary.files++
		summary.bytes += int64(f.UncompressedSize64) //nolint:gosec // sizes above MaxInt64 fail readEntry
		if len(summary.entries) < maxListed {
			summary.entries = append(summary.entries, Entry{
				Name:     f.Name,
				Size:     int64(f.UncompressedSize64), //nolint:gosec // see above
				Modified: f.Modified.UTC(),
			})
		}
	}
	if summary.files == 0 {
		return nil, errors.New("archive contains no files")
	}
	return summary, nil
}

// readEntry reads f to the end, which makes the zip reader verify its
// checksum and size.
func readEntry(f *zip.File) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("entry %s: %w", f.Name, err)
	}
	defer rc.Close() //nolint:errcheck // read-only

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("entry %s: %w", f.Name, err)
	}
	return nil
}

// extract unpacks the archive at archivePath into outputDir and records the
// result in m.
func (e *Engine) extract(ctx context.Context, archivePath, outputDir string, m *Manifest) (err error) {
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // read-only

	var written []string
	defer func() {
		if err == nil {
			return
		}
		for _, path := range written {
			os.Remove(path) //nolint:errcheck,gosec // Best effort cleanup on error
		}
	}()

	log := logging.Ctx(ctx)
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if filepath.Clean(filepath.FromSlash(f.Name)) == "." {
				continue
			}
			dir, err := validateAndBuildDestPath(root, f.Name)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
			}
			continue
		case !mode.IsRegular():
			m.Skipped = append(m.Skipped, f.Name)
			log.Warn().Str("entry", f.Name).Str("type", mode.Type().String()).Msg("Skipping non-regular archive entry")
			continue
		}

		destPath, err := validateAndBuildDestPath(root, f.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
		}
		if err := e.extractFile(f, destPath); err != nil {
			return fmt.Errorf("entry %s: %w", f.Name, err)
		}
		written = append(written, destPath)
	}

	m.OutputDir = root
	m.Extracted = len(written)
	return nil
}

// validateAndBuildDestPath maps an archive entry name to a path under root.
func validateAndBuildDestPath(root, name string) (string, error) {
	local := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	destPath := filepath.Join(root, local)
	if !strings.HasPrefix(destPath, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid file path in archive: %s", name)
	}
	return destPath, nil
}

// validateExtractionSize checks a declared entry size against the limit.
func (e *Engine) validateExtractionSize(size uint64) error {
	if size > uint64(e.maxEntrySize) { //nolint:gosec // maxEntrySize is positive
		return fmt.Errorf("file too large: %d bytes (max %d)", size, e.maxEntrySize)
	}
	return nil
}

func (e *Engine) extractFile(f *zip.File, destPath string) error {
	if err := e.validateExtractionSize(f.UncompressedSize64); err != nil {
		return err
	}
	size := int64(f.UncompressedSize64) //nolint:gosec // bounded above

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // read-only

	//nolint:gosec // G304: destPath validated by validateAndBuildDestPath
	outFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("refusing to overwrite existing file %s", destPath)
	}
	if err != nil {
		return err
	}
	return copyAndCloseExtractedFile(outFile, rc, destPath, size)
}

// copyAndCloseExtractedFile copies at most size bytes to outFile and removes
// it again on any failure.
func copyAndCloseExtractedFile(outFile *os.File, reader io.Reader, destPath string, size int64) error {
	n, err := io.Copy(outFile, io.LimitReader(reader, size+1))
	if err == nil && n > size {
		err = fmt.Errorf("entry exceeds its declared size of %d bytes", size)
	}
	closeErr := outFile.Close()

	if err != nil {
		os.Remove(destPath) //nolint:errcheck,gosec // Best effort cleanup on error
		return err
	}
	if closeErr != nil {
		os.Remove(destPath) //nolint:errcheck,gosec // Best effort cleanup on error
		return closeErr
	}
	return nil
}
