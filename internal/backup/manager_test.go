// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/export"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/transfer"
)

var artifactName = artifact.FileName(testNow)

func TestNewManager_RequiresDependencies(t *testing.T) {
	env := newTestEnv(t)
	full := Dependencies{
		Lock:     env.lock(),
		Exporter: env.exporter,
		Envelope: env.envelope(t),
	}

	if _, err := NewManager(nil, full); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewManager(env.cfg, full); err == nil {
		t.Error("expected error for missing pruner")
	}
}

// A configured remote receives the artifact, the local copy is removed, and
// the schedule entry is installed.
func TestRun_UploadsAndRemovesLocalCopy(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.State != StateDone {
		t.Errorf("state = %s, want done", result.State)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want success (warnings: %v)", result.Outcome, result.Warnings)
	}
	wantPath := []State{StateIdle, StateLocked, StateExported, StateEncrypted, StateUploaded, StateRetained, StateScheduleEnsured, StateDone}
	if !reflect.DeepEqual(result.Path, wantPath) {
		t.Errorf("path = %v, want %v", result.Path, wantPath)
	}

	key := artifact.RemoteKey(testPrefix, testNow)
	if !store.has(key) {
		t.Fatalf("remote is missing %s", key)
	}
	art := result.Artifact
	if art.Stage != artifact.StageUploaded {
		t.Errorf("stage = %s, want uploaded", art.Stage)
	}
	if art.Location.Kind() != artifact.LocationRemote {
		t.Errorf("location = %s, want remote", art.Location.Kind())
	}
	if names := listDir(t, env.backupDir); len(names) != 0 {
		t.Errorf("backup dir not empty after verified upload: %v", names)
	}
	if len(env.scheduler.entries) != 1 || result.Schedule != "installed" {
		t.Errorf("schedule = %q with %d entries", result.Schedule, len(env.scheduler.entries))
	}
	assertNoLock(t, env)

	// The uploaded object is the export, encrypted.
	encPath := filepath.Join(t.TempDir(), artifactName)
	if err := os.WriteFile(encPath, store.objects[key], 0o600); err != nil {
		t.Fatal(err)
	}
	plain := filepath.Join(t.TempDir(), "plain.zip")
	if _, err := env.envelope(t).Decrypt(context.Background(), encPath, testPassphrase, plain, nil); err != nil {
		t.Fatalf("uploaded artifact does not decrypt: %v", err)
	}
	got, _ := os.ReadFile(plain) //nolint:gosec // test fixture
	if string(got) != testPayload {
		t.Errorf("decrypted payload = %q", got)
	}
}

// Remote failures degrade to a local-only artifact without failing the run.
func TestRun_UploadFailureKeepsLocalCopy(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*memoryStore)
	}{
		{
			name:  "upload error",
			setup: func(s *memoryStore) { s.uploadErr = errors.New("connection reset by peer") },
		},
		{
			name:  "not visible after upload",
			setup: func(s *memoryStore) { s.dropUploads = true },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env.withRemote())
			m := env.newManager(t)

			result, err := m.Run(context.Background())
			if err != nil {
				t.Fatalf("upload failure must not fail the run: %v", err)
			}
			if result.State != StateDone || result.Outcome != OutcomeDegraded {
				t.Errorf("state/outcome = %s/%s, want done/degraded", result.State, result.Outcome)
			}
			if result.UploadError == "" {
				t.Error("expected upload error to be recorded")
			}
			if result.Artifact.Stage != artifact.StageLocalOnly {
				t.Errorf("stage = %s, want local_only", result.Artifact.Stage)
			}
			if names := listDir(t, env.backupDir); !reflect.DeepEqual(names, []string{artifactName}) {
				t.Errorf("backup dir = %v, want only %s", names, artifactName)
			}
			assertNoLock(t, env)
		})
	}
}

func TestRun_NoRemoteIsLocalOnlySuccess(t *testing.T) {
	env := newTestEnv(t)
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", result.Outcome)
	}
	if result.Artifact.Stage != artifact.StageLocalOnly {
		t.Errorf("stage = %s, want local_only", result.Artifact.Stage)
	}
	if result.RemoteRetention != nil {
		t.Error("remote retention must not run without a remote")
	}
	if names := listDir(t, env.backupDir); !reflect.DeepEqual(names, []string{artifactName}) {
		t.Errorf("backup dir = %v", names)
	}
}

// An encryption failure leaves neither plaintext nor partial ciphertext, and
// the lock is released.
func TestRun_EncryptFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.cipher = failingCipher{}
	older := env.seedArtifact(t, testNow.AddDate(0, 0, -1), 1)
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if !errors.Is(err, crypto.ErrEncrypt) {
		t.Fatalf("expected ErrEncrypt, got %v", err)
	}
	if result.State != StateFailed || result.Outcome != OutcomeFailed {
		t.Errorf("state/outcome = %s/%s, want failed/failed", result.State, result.Outcome)
	}
	if names := listDir(t, env.backupDir); !reflect.DeepEqual(names, []string{filepath.Base(older)}) {
		t.Errorf("backup dir = %v, want only the earlier artifact", names)
	}
	assertNoLock(t, env)

	last, err := m.Journal().Last()
	if err != nil || last == nil {
		t.Fatalf("journal Last: %v, %v", last, err)
	}
	if last.Outcome != OutcomeFailed || last.Error == "" {
		t.Errorf("journal record = %+v", last)
	}
	if last.Stage != "deleted" {
		t.Errorf("journal stage = %q, want deleted", last.Stage)
	}
}

func TestRun_ExportFailureRollsBack(t *testing.T) {
	tests := []struct {
		name     string
		exporter export.ExporterFunc
	}{
		{
			name: "tool fails after partial write",
			exporter: func(_ context.Context, dest string) error {
				if err := os.WriteFile(dest, []byte("PK\x03"), 0o600); err != nil {
					return err
				}
				return errors.New("exit status 1")
			},
		},
		{
			name: "tool succeeds with empty output",
			exporter: func(_ context.Context, dest string) error {
				return os.WriteFile(dest, nil, 0o600)
			},
		},
		{
			name:     "tool writes nothing",
			exporter: func(context.Context, string) error { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.exporter = tt.exporter
			m := env.newManager(t)

			result, err := m.Run(context.Background())
			if !errors.Is(err, export.ErrExport) {
				t.Fatalf("expected ErrExport, got %v", err)
			}
			if result.State != StateFailed {
				t.Errorf("state = %s, want failed", result.State)
			}
			if names := listDir(t, env.backupDir); len(names) != 0 {
				t.Errorf("backup dir not empty after rollback: %v", names)
			}
			assertNoLock(t, env)
		})
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	env.alive[4242] = true
	if err := os.MkdirAll(env.stateDir, 0o750); err != nil {
		t.Fatal(err)
	}
	marker := []byte(`{"pid":4242,"acquired_at":"2026-03-14T02:59:00Z"}`)
	if err := os.WriteFile(env.cfg.LockPath(), marker, 0o600); err != nil {
		t.Fatal(err)
	}
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if result.Outcome != OutcomeAlreadyRunning {
		t.Errorf("outcome = %s", result.Outcome)
	}
	if env.exported != 0 {
		t.Error("export must not start when another run holds the lock")
	}
	if got, _ := os.ReadFile(env.cfg.LockPath()); string(got) != string(marker) { //nolint:gosec // test fixture
		t.Errorf("holder's marker was modified: %s", got)
	}
	if _, err := os.Stat(m.Journal().Path()); !errors.Is(err, os.ErrNotExist) {
		t.Error("journal must not be written without the lock")
	}
}

func TestRun_StaleLockIsReclaimed(t *testing.T) {
	env := newTestEnv(t)
	if err := os.MkdirAll(env.stateDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.cfg.LockPath(), []byte(`{"pid":4242}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := env.newManager(t)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run with stale lock failed: %v", err)
	}
	assertNoLock(t, env)
}

func TestRun_InsufficientSpace(t *testing.T) {
	env := newTestEnv(t)
	env.disk = DiskProbeFunc(func(context.Context, string) (DiskUsage, error) {
		return DiskUsage{Total: 1000, Free: 250}, nil
	})
	env.cfg.Disk.MinFreePercent = 30
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	var spaceErr *InsufficientSpaceError
	if !errors.As(err, &spaceErr) || spaceErr.FreePercent != 25 || spaceErr.MinPercent != 30 {
		t.Errorf("unexpected error detail: %#v", spaceErr)
	}
	if env.exported != 0 {
		t.Error("export must not start without enough free space")
	}
	if result.State != StateFailed {
		t.Errorf("state = %s", result.State)
	}
	assertNoLock(t, env)
}

func TestRun_DiskProbeErrorIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.disk = DiskProbeFunc(func(context.Context, string) (DiskUsage, error) {
		return DiskUsage{}, errors.New("statfs: permission denied")
	})
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Disk != nil {
		t.Error("expected no disk usage in result")
	}
}

func TestRun_CanceledDuringExport(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.exporter = export.ExporterFunc(func(ctx context.Context, dest string) error {
		if err := os.WriteFile(dest, []byte("PK\x03\x04 half"), 0o600); err != nil {
			return err
		}
		cancel()
		return ctx.Err()
	})
	m := env.newManager(t)

	result, err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.State != StateFailed {
		t.Errorf("state = %s", result.State)
	}
	if names := listDir(t, env.backupDir); len(names) != 0 {
		t.Errorf("backup dir not empty after cancellation: %v", names)
	}
	assertNoLock(t, env)
}

// Cancellation after encryption keeps the complete artifact.
func TestRun_CanceledDuringUpload(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.onUpload = cancel
	m := env.newManager(t)

	result, err := m.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.State != StateFailed {
		t.Errorf("state = %s", result.State)
	}
	if result.Artifact.Stage != artifact.StageLocalOnly {
		t.Errorf("stage = %s, want local_only", result.Artifact.Stage)
	}
	if names := listDir(t, env.backupDir); !reflect.DeepEqual(names, []string{artifactName}) {
		t.Errorf("complete artifact must survive cancellation, dir = %v", names)
	}
	assertNoLock(t, env)
}

func TestRun_AppliesRetention(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	expired := env.seedArtifact(t, testNow.AddDate(0, 0, -20), 20)
	recent := env.seedArtifact(t, testNow.AddDate(0, 0, -3), 3)

	oldKey := artifact.RemoteKey(testPrefix, testNow.AddDate(0, 0, -30))
	keepKey := artifact.RemoteKey(testPrefix, testNow.AddDate(0, 0, -2))
	foreign := testPrefix + "/README.txt"
	for _, k := range []string{oldKey, keepKey, foreign} {
		store.objects[k] = []byte("x")
	}
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, err := os.Stat(expired); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired local artifact survived")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Errorf("recent local artifact removed: %v", err)
	}
	if store.has(oldKey) {
		t.Error("expired remote artifact survived")
	}
	for _, k := range []string{keepKey, foreign, artifact.RemoteKey(testPrefix, testNow)} {
		if !store.has(k) {
			t.Errorf("remote object %s was removed", k)
		}
	}
	if result.LocalRetention == nil || result.LocalRetention.Deleted != 1 {
		t.Errorf("local retention = %+v", result.LocalRetention)
	}
	if result.RemoteRetention == nil || result.RemoteRetention.Deleted != 1 || result.RemoteRetention.Skipped != 1 {
		t.Errorf("remote retention = %+v", result.RemoteRetention)
	}
}

func TestRun_RemoteRetentionFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	store.listErr = fmt.Errorf("%w: access denied", transfer.ErrList)
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome != OutcomeDegraded || result.State != StateDone {
		t.Errorf("state/outcome = %s/%s", result.State, result.Outcome)
	}
	if result.Artifact.Stage != artifact.StageUploaded {
		t.Errorf("stage = %s", result.Artifact.Stage)
	}
}

func TestRun_Schedule(t *testing.T) {
	t.Run("replaces entry with a different expression", func(t *testing.T) {
		env := newTestEnv(t)
		env.scheduler.entries = []schedule.Entry{
			{Expression: "0 1 * * *", Command: testCommand},
			{Expression: "*/5 * * * *", Command: "/usr/bin/other-job"},
		}
		m := env.newManager(t)

		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Schedule != "replaced" {
			t.Errorf("schedule = %q, want replaced", result.Schedule)
		}
		if len(env.scheduler.entries) != 2 {
			t.Fatalf("entries = %+v", env.scheduler.entries)
		}
		e, err := schedule.Lookup(context.Background(), env.scheduler, testCommand)
		if err != nil || e == nil || e.Expression != "0 3 * * *" {
			t.Errorf("Lookup = %+v, %v", e, err)
		}
	})

	t.Run("failure is logged, backup kept", func(t *testing.T) {
		env := newTestEnv(t)
		env.scheduler.listErr = errors.New("crontab: permission denied")
		m := env.newManager(t)

		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("schedule failure must not fail the run: %v", err)
		}
		if result.Outcome != OutcomeDegraded || result.Schedule != "failed" {
			t.Errorf("outcome/schedule = %s/%s", result.Outcome, result.Schedule)
		}
		if names := listDir(t, env.backupDir); len(names) != 1 {
			t.Errorf("backup dir = %v", names)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.cfg.Schedule.Enabled = false
		m := env.newManager(t)

		result, err := m.Run(context.Background())
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if result.Schedule != "disabled" || len(env.scheduler.entries) != 0 {
			t.Errorf("schedule = %q, entries = %v", result.Schedule, env.scheduler.entries)
		}
		if result.State != StateDone {
			t.Errorf("state = %s", result.State)
		}
	})
}

func TestRun_SweepsLeftoversOfKilledRuns(t *testing.T) {
	env := newTestEnv(t)
	completed := env.seedArtifact(t, testNow.AddDate(0, 0, -1), 1)
	leftovers := []string{"20260313030000.zip", "20260313030000.zip.enc.part"}
	for _, name := range append(leftovers, "notes.txt") {
		if err := os.WriteFile(filepath.Join(env.backupDir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	m := env.newManager(t)

	if _, err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []string{artifactName, filepath.Base(completed), "notes.txt"}
	sort.Strings(want)
	if got := listDir(t, env.backupDir); !reflect.DeepEqual(got, want) {
		t.Errorf("backup dir = %v, want %v", got, want)
	}
}

func TestRun_ExistingArtifactIsNotOverwritten(t *testing.T) {
	env := newTestEnv(t)
	if err := os.MkdirAll(env.backupDir, 0o750); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(env.backupDir, artifactName)
	if err := os.WriteFile(existing, []byte("earlier run"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := env.newManager(t)

	_, err := m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}
	if got, _ := os.ReadFile(existing); string(got) != "earlier run" { //nolint:gosec // test fixture
		t.Errorf("existing artifact modified: %q", got)
	}
	if env.exported != 0 {
		t.Error("export must not run")
	}
}

func TestRun_JournalAndTextfile(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "snapvault.prom")
	m := env.newManager(t)

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	last, err := m.Journal().Last()
	if err != nil || last == nil {
		t.Fatalf("journal Last: %v, %v", last, err)
	}
	if last.RunID != result.RunID || last.RunID == "" {
		t.Errorf("run id = %q, want %q", last.RunID, result.RunID)
	}
	if last.State != StateDone || last.Artifact != artifactName || last.Stage != "local_only" {
		t.Errorf("journal record = %+v", last)
	}

	data, err := os.ReadFile(env.cfg.Metrics.Textfile)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	if !strings.Contains(string(data), "snapvault_runs_total") {
		t.Errorf("textfile missing run counter:\n%s", data)
	}
}
