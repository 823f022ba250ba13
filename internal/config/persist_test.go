// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := validConfig()
	cfg.Retention.MaxAgeDays = 9
	cfg.Remote.Timeout = 12 * time.Minute
	cfg.Remote.S3.Bucket = "db-backups"
	cfg.Remote.S3.Region = "us-east-1"
	cfg.Remote.S3.AccessKeyID = "AKIAEXAMPLE"
	cfg.Remote.S3.SecretAccessKey = "secret"

	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != FileMode {
		t.Errorf("mode = %04o, want %04o", info.Mode().Perm(), FileMode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "12m0s") {
		t.Errorf("expected duration written as string, got:\n%s", data)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Retention.MaxAgeDays != 9 {
		t.Errorf("MaxAgeDays = %d, want 9", loaded.Retention.MaxAgeDays)
	}
	if loaded.Remote.Timeout != 12*time.Minute {
		t.Errorf("Remote.Timeout = %v, want 12m", loaded.Remote.Timeout)
	}
	if loaded.Backup.Password != cfg.Backup.Password {
		t.Error("password did not round-trip")
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the config file, found %d entries", len(entries))
	}
}

func TestCheck_FileMode(t *testing.T) {
	dir := t.TempDir()
	cfg := validConfig()
	cfg.Backup.Dir = dir
	cfg.Backup.StateDir = dir
	cfg.Schedule.Enabled = false

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}

	issues := Check(cfg, path)
	found := false
	for _, i := range issues {
		if i.Subject == path && i.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected permission warning, got %v", issues)
	}

	if err := os.Chmod(path, FileMode); err != nil {
		t.Fatal(err)
	}
	for _, i := range Check(cfg, path) {
		if i.Subject == path {
			t.Errorf("unexpected issue after chmod: %v", i)
		}
	}
}

func TestCheck_Binaries(t *testing.T) {
	orig := lookPath
	t.Cleanup(func() { lookPath = orig })
	lookPath = func(name string) (string, error) {
		if name == "crontab" {
			return "/usr/bin/crontab", nil
		}
		return "", errors.New("not found")
	}

	dir := t.TempDir()
	cfg := validConfig()
	cfg.Backup.Dir = dir
	cfg.Backup.StateDir = dir
	cfg.Cipher.Backend = CipherOpenSSL
	cfg.Remote.S3.Bucket = "b"

	issues := Check(cfg, "")
	var subjects []string
	for _, i := range issues {
		if i.Severity == SeverityError {
			subjects = append(subjects, i.Subject)
		}
	}
	joined := strings.Join(subjects, ",")
	if !strings.Contains(joined, "OPENSSL_PATH") || !strings.Contains(joined, "AWS_CLI_PATH") {
		t.Errorf("expected missing openssl and aws, got %v", issues)
	}
	if strings.Contains(joined, "SCHEDULE_ENABLED") {
		t.Errorf("crontab should be found, got %v", issues)
	}
	if !HasErrors(issues) {
		t.Error("HasErrors() = false")
	}
}

func TestCheck_Directories(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain-file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Schedule.Enabled = false
	cfg.Backup.Dir = filepath.Join(dir, "missing")
	cfg.Backup.StateDir = file

	issues := Check(cfg, "")
	var backupIssue, stateIssue *Issue
	for i := range issues {
		switch issues[i].Subject {
		case "BACKUP_DIR":
			backupIssue = &issues[i]
		case "STATE_DIR":
			stateIssue = &issues[i]
		}
	}
	if backupIssue == nil || backupIssue.Severity != SeverityWarning {
		t.Errorf("expected missing BACKUP_DIR warning, got %v", backupIssue)
	}
	if stateIssue == nil || stateIssue.Severity != SeverityError {
		t.Errorf("expected STATE_DIR error, got %v", stateIssue)
	}
	if _, err := os.Stat(cfg.Backup.Dir); err == nil {
		t.Error("Check must not create directories")
	}
}
