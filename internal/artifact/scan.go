// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Info describes a visible artifact file on local disk.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	ModTime   time.Time `json:"mod_time"`
	Size      int64     `json:"size_bytes"`
}

// Scan lists complete artifacts in dir, sorted by name (oldest first).
// A missing directory yields no artifacts. Files that vanish between listing
// and stat are skipped, since a concurrent run may be pruning.
func Scan(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact directory %s: %w", dir, err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		ts, ok := ParseFileName(entry.Name())
		if !ok {
			continue
		}
		fi, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", entry.Name(), err)
		}
		infos = append(infos, Info{
			Name:      entry.Name(),
			Path:      filepath.Join(dir, entry.Name()),
			Timestamp: ts,
			ModTime:   fi.ModTime(),
			Size:      fi.Size(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Latest returns the most recently modified artifact; ties go to the
// lexicographically greatest name. ok is false for an empty slice.
func Latest(infos []Info) (Info, bool) {
	if len(infos) == 0 {
		return Info{}, false
	}
	best := infos[0]
	for _, info := range infos[1:] {
		switch {
		case info.ModTime.After(best.ModTime):
			best = info
		case info.ModTime.Equal(best.ModTime) && info.Name > best.Name:
			best = info
		}
	}
	return best, true
}

// Find returns the artifact named name from infos.
func Find(infos []Info, name string) (Info, bool) {
	for _, info := range infos {
		if info.Name == name {
			return info, true
		}
	}
	return Info{}, false
}

// TotalSize sums the sizes of infos.
func TotalSize(infos []Info) int64 {
	var total int64
	for _, info := range infos {
		total += info.Size
	}
	return total
}
