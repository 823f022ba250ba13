// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/transfer"
)

// Select returns the artifact in dir named name or, when name is empty, the
// most recently modified one (ties go to the greatest name).
func Select(dir, name string) (artifact.Info, error) {
	infos, err := artifact.Scan(dir)
	if err != nil {
		return artifact.Info{}, err
	}
	if name != "" {
		info, ok := artifact.Find(infos, name)
		if !ok {
			return artifact.Info{}, fmt.Errorf("%w: %s in %s", ErrNotFound, name, dir)
		}
		return info, nil
	}
	info, ok := artifact.Latest(infos)
	if !ok {
		return artifact.Info{}, fmt.Errorf("%w in %s", ErrNoArtifacts, dir)
	}
	return info, nil
}

// RemoteArtifact is an artifact held in remote storage.
type RemoteArtifact struct {
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size_bytes"`
}

// Remote locates and downloads artifacts from remote storage, for runs that
// removed the local copy after a verified upload.
type Remote struct {
	Store  transfer.Store
	Prefix string
	// ScratchDir is the parent of download directories; empty means the
	// system temp directory.
	ScratchDir string
}

// List returns the remote artifacts under the prefix, oldest first. Keys
// outside the artifact layout are ignored.
func (r *Remote) List(ctx context.Context) ([]RemoteArtifact, error) {
	objects, err := r.Store.List(ctx, r.Prefix)
	if err != nil {
		return nil, err
	}

	out := make([]RemoteArtifact, 0, len(objects))
	for _, obj := range objects {
		ts, err := artifact.ParseRemoteKeyDate(r.Prefix, obj.Key)
		if err != nil {
			logging.Ctx(ctx).Debug().Str("key", obj.Key).Msg("Ignoring foreign remote object")
			continue
		}
		out = append(out, RemoteArtifact{
			Key:       obj.Key,
			Name:      artifact.BaseName(obj.Key),
			Timestamp: ts,
			Size:      obj.Size,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Select returns the remote artifact whose name or key equals name or, when
// name is empty, the one with the latest creation time.
func (r *Remote) Select(ctx context.Context, name string) (RemoteArtifact, error) {
	all, err := r.List(ctx)
	if err != nil {
		return RemoteArtifact{}, err
	}
	if name != "" {
		for _, a := range all {
			if a.Name == name || a.Key == name {
				return a, nil
			}
		}
		return RemoteArtifact{}, fmt.Errorf("%w: %s in %s", ErrNotFound, name, r.Store.Location())
	}
	if len(all) == 0 {
		return RemoteArtifact{}, fmt.Errorf("%w in %s", ErrNoArtifacts, r.Store.Location())
	}
	return all[len(all)-1], nil
}

// Fetch downloads a into a fresh scratch directory and returns the local
// path. cleanup removes the download and is safe to call more than once.
func (r *Remote) Fetch(ctx context.Context, a RemoteArtifact) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp(r.ScratchDir, "snapvault-fetch-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	cleanup = func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("path", dir).Msg("Failed to remove download directory")
		}
	}

	path = filepath.Join(dir, a.Name)
	if err := r.Store.Download(ctx, a.Key, path); err != nil {
		cleanup()
		return "", nil, err
	}
	logging.Ctx(ctx).Info().
		Str("key", a.Key).
		Str("location", r.Store.Location()).
		Msg("Fetched remote artifact")
	return path, cleanup, nil
}
