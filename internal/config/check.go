// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

// Severity classifies a Check finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue is one problem found by Check.
type Issue struct {
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Subject, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Check inspects the host environment for an already validated config: config
// file permissions, required external binaries and directory writability.
// It never modifies anything.
func Check(cfg *Config, configPath string) []Issue {
	var issues []Issue

	if configPath != "" {
		issues = append(issues, checkFileMode(configPath)...)
	}

	if _, err := os.Stat("/bin/sh"); err != nil {
		issues = append(issues, Issue{SeverityError, "EXPORT_COMMAND", "/bin/sh not found: " + err.Error()})
	}
	if cfg.Cipher.Backend == CipherOpenSSL {
		issues = append(issues, checkBinary("OPENSSL_PATH", cfg.Cipher.OpenSSLPath)...)
	}
	if cfg.Remote.Backend == BackendS3 && cfg.RemoteEnabled() {
		issues = append(issues, checkBinary("AWS_CLI_PATH", cfg.Remote.S3.CLIPath)...)
	}
	if cfg.Schedule.Enabled {
		issues = append(issues, checkBinary("SCHEDULE_ENABLED", "crontab")...)
	}

	issues = append(issues, checkWritableDir("BACKUP_DIR", cfg.Backup.Dir)...)
	issues = append(issues, checkWritableDir("STATE_DIR", cfg.Backup.StateDir)...)
	if cfg.Remote.Backend == BackendDir && cfg.RemoteEnabled() {
		issues = append(issues, checkWritableDir("REMOTE_DIR", cfg.Remote.Dir)...)
	}

	return issues
}

func checkFileMode(path string) []Issue {
	info, err := os.Stat(path)
	if err != nil {
		return []Issue{{SeverityError, path, "cannot stat config file: " + err.Error()}}
	}
	if info.Mode().Perm()&0o077 != 0 {
		return []Issue{{SeverityWarning, path, fmt.Sprintf(
			"config file holds secrets but has mode %04o, expected %04o", info.Mode().Perm(), FileMode)}}
	}
	return nil
}

func checkBinary(subject, name string) []Issue {
	if _, err := lookPath(name); err != nil {
		return []Issue{{SeverityError, subject, fmt.Sprintf("%s not found in PATH", name)}}
	}
	return nil
}

// checkWritableDir probes with a temp file. A missing directory is only a
// warning because the run creates it.
func checkWritableDir(subject, dir string) []Issue {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Issue{{SeverityWarning, subject, dir + " does not exist yet and will be created"}}
	}
	if err != nil {
		return []Issue{{SeverityError, subject, "cannot stat " + dir + ": " + err.Error()}}
	}
	if !info.IsDir() {
		return []Issue{{SeverityError, subject, dir + " is not a directory"}}
	}

	f, err := os.CreateTemp(dir, ".snapvault-check-*")
	if err != nil {
		return []Issue{{SeverityError, subject, dir + " is not writable: " + err.Error()}}
	}
	name := f.Name()
	_ = f.Close()       //nolint:errcheck // probe file
	_ = os.Remove(name) //nolint:errcheck // probe file
	return nil
}
