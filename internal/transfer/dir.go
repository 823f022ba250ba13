// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DirStore keeps objects as files under Root, typically a mounted network
// volume. Keys map to slash-separated relative paths.
type DirStore struct {
	Root string
}

// Location implements Store.
func (s *DirStore) Location() string {
	return s.Root
}

// Upload implements Store. The object appears atomically: data is written
// to a temporary file in the target directory, synced and renamed.
func (s *DirStore) Upload(ctx context.Context, localPath, key string) error {
	dest, err := s.resolve(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}
	if err := copyAtomic(ctx, localPath, dest); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrUpload, key, err)
	}
	return nil
}

// Exists implements Store.
func (s *DirStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrExists, err)
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", ErrExists, key, err)
	}
	return info.Mode().IsRegular(), nil
}

// List implements Store. Temporary upload files are not listed.
func (s *DirStore) List(ctx context.Context, prefix string) ([]Object, error) {
	start := s.Root
	if p := strings.Trim(prefix, "/"); p != "" {
		var err error
		if start, err = s.resolve(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrList, err)
		}
	}

	var objects []Object
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Root, p)
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrList, prefix, err)
	}
	return objects, nil
}

// Delete implements Store. Emptied date directories are removed up to the root.
func (s *DirStore) Delete(_ context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelete, err)
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrDelete, key, err)
	}

	root := filepath.Clean(s.Root)
	for dir := filepath.Dir(p); dir != root && strings.HasPrefix(dir, root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break // not empty
		}
	}
	return nil
}

// Download implements Store.
func (s *DirStore) Download(ctx context.Context, key, localPath string) error {
	src, err := s.resolve(key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDownload, err)
	}
	if err := copyAtomic(ctx, src, localPath); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDownload, key, err)
	}
	return nil
}

// resolve maps key to a path under Root, rejecting keys that escape it.
func (s *DirStore) resolve(key string) (string, error) {
	if s.Root == "" {
		return "", errors.New("remote directory is not configured")
	}
	clean := path.Clean(strings.TrimPrefix(key, "/"))
	if clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("key %q escapes the remote directory", key)
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

func copyAtomic(ctx context.Context, src, dest string) (err error) {
	in, err := os.Open(src) //nolint:gosec // artifact path built by the orchestrator
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read-only

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, ctxReader{ctx: ctx, r: in}); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
