// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/crypto"
)

const testPassphrase = "Tr0ub4dor&3-horse-staple"

// testEnv is an isolated host: config file, backup and state directories,
// and no inherited configuration environment.
type testEnv struct {
	root       string
	configPath string
	cfg        *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	for _, envName := range config.EnvNames() {
		t.Setenv(envName, "")
		os.Unsetenv(envName) //nolint:errcheck // restored by t.Setenv
	}
	t.Setenv(config.ConfigPathEnvVar, "")

	root := t.TempDir()
	cfg := config.Default()
	cfg.Backup.Password = testPassphrase
	cfg.Backup.Dir = filepath.Join(root, "backups")
	cfg.Backup.StateDir = filepath.Join(root, "state")
	cfg.Export.Command = "true"
	cfg.Cipher.Backend = config.CipherNative
	cfg.Schedule.Enabled = false
	cfg.Logging.Level = "error"

	env := &testEnv{root: root, configPath: filepath.Join(root, "config.yaml"), cfg: cfg}
	env.save(t)
	return env
}

func (e *testEnv) save(t *testing.T) {
	t.Helper()
	if err := config.Save(e.cfg, e.configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

// execute runs the root command with args, prefixed by --config and a quiet
// log level, and returns stdout.
func (e *testEnv) execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return execute(t, stdin, append([]string{"--config", e.configPath, "--log-level", "error"}, args...)...)
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// seedArtifact encrypts a small export into the backup directory, named and
// dated for ts, and returns its path.
func (e *testEnv) seedArtifact(t *testing.T, ts time.Time) string {
	t.Helper()

	work := t.TempDir()
	plain := filepath.Join(work, "export.zip")
	f, err := os.Create(plain) //nolint:gosec // test fixture
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w := zip.NewWriter(f)
	for name, body := range map[string]string{
		"manifest.json":  `{"tables":1}`,
		"data/users.csv": "id,name\n1,ada\n",
	} {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", name, err)
		}
		if _, err := io.WriteString(fw, body); err != nil {
			t.Fatalf("write %s failed: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := os.MkdirAll(e.cfg.Backup.Dir, 0o750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	dest := filepath.Join(e.cfg.Backup.Dir, artifact.FileName(ts))
	envelope := crypto.NewEnvelope(crypto.NativeCipher{}, crypto.DefaultSuite())
	if err := envelope.EncryptTo(context.Background(), plain, dest, e.cfg.Backup.Password); err != nil {
		t.Fatalf("EncryptTo failed: %v", err)
	}
	if err := os.Chtimes(dest, ts, ts); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	return dest
}
