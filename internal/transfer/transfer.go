// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package transfer moves encrypted artifacts to and from remote storage.
//
// The object store protocol is delegated: AWSCLIStore shells out to the aws
// CLI and DirStore writes to a mounted volume. Upload success reported by the
// backend is never trusted on its own; UploadVerified follows every upload
// with an existence check, and only a verified upload permits deleting the
// local copy.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/snapvault/internal/logging"
)

var (
	// ErrUpload wraps upload failures, including failed verification.
	ErrUpload = errors.New("upload failed")

	// ErrNotVisible means the backend accepted an upload but the object
	// could not be found afterwards.
	ErrNotVisible = fmt.Errorf("%w: object not visible after upload", ErrUpload)

	// ErrExists wraps existence check failures.
	ErrExists = errors.New("existence check failed")

	// ErrList wraps listing failures.
	ErrList = errors.New("list failed")

	// ErrDelete wraps deletion failures.
	ErrDelete = errors.New("delete failed")

	// ErrDownload wraps download failures.
	ErrDownload = errors.New("download failed")
)

// Object is one remote object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a remote object store addressed by key.
type Store interface {
	// Upload copies the local file at localPath to key.
	Upload(ctx context.Context, localPath, key string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every object under prefix.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Download copies key to the local file at localPath.
	Download(ctx context.Context, key, localPath string) error
	// Location names the store for logs and artifact records, e.g. a bucket.
	Location() string
}

// UploadVerified uploads localPath to key and then confirms the object
// exists. A nil return is the only condition under which the caller may
// delete the local copy.
func UploadVerified(ctx context.Context, store Store, localPath, key string) error {
	log := logging.Ctx(ctx)
	start := time.Now()

	if err := store.Upload(ctx, localPath, key); err != nil {
		if errors.Is(err, ErrUpload) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	ok, err := store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: verification of %s failed: %w", ErrUpload, key, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotVisible, key)
	}

	log.Info().
		Str("location", store.Location()).
		Str("key", key).
		Dur("duration", time.Since(start)).
		Msg("Artifact uploaded and verified")
	return nil
}
