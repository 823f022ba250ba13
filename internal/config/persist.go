// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// FileMode is the permission set for persisted configuration files.
const FileMode os.FileMode = 0o600

// durationPaths are written as Go duration strings ("30m0s") rather than
// nanosecond integers so the file stays editable by hand.
var durationPaths = []string{
	"export.timeout",
	"remote.timeout",
}

// Save writes cfg to path as YAML with owner-only permissions. The file is
// replaced atomically so a crash never leaves a truncated config behind.
func Save(cfg *Config, path string) error {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return fmt.Errorf("failed to load configuration for saving: %w", err)
	}
	for _, p := range durationPaths {
		if d, ok := k.Get(p).(time.Duration); ok {
			if err := k.Set(p, d.String()); err != nil {
				return fmt.Errorf("failed to set %s: %w", p, err)
			}
		}
	}

	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapvault-*.yaml.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		}
	}()

	if err := tmp.Chmod(FileMode); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to install config file: %w", err)
	}
	committed = true
	return nil
}
