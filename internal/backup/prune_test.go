// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/lock"
)

func TestPrune_DryRunDeletesNothing(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	expired := env.seedArtifact(t, testNow.AddDate(0, 0, -20), 20)
	env.seedArtifact(t, testNow.AddDate(0, 0, -2), 2)
	oldKey := artifact.RemoteKey(testPrefix, testNow.AddDate(0, 0, -40))
	store.objects[oldKey] = []byte("x")
	store.objects[artifact.RemoteKey(testPrefix, testNow)] = []byte("x")
	m := env.newManager(t)

	res, err := m.Prune(context.Background(), true)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if len(res.LocalCandidates) != 1 || res.LocalCandidates[0].Path != expired {
		t.Errorf("local candidates = %+v", res.LocalCandidates)
	}
	if len(res.RemoteCandidates) != 1 || res.RemoteCandidates[0].Name != oldKey {
		t.Errorf("remote candidates = %+v", res.RemoteCandidates)
	}
	if _, err := os.Stat(expired); err != nil {
		t.Errorf("dry run removed %s: %v", expired, err)
	}
	if !store.has(oldKey) {
		t.Error("dry run removed remote object")
	}
}

func TestPrune_Deletes(t *testing.T) {
	env := newTestEnv(t)
	store := env.withRemote()
	expired := env.seedArtifact(t, testNow.AddDate(0, 0, -20), 20)
	env.seedArtifact(t, testNow.AddDate(0, 0, -2), 2)
	oldKey := artifact.RemoteKey(testPrefix, testNow.AddDate(0, 0, -40))
	store.objects[oldKey] = []byte("x")
	store.objects[artifact.RemoteKey(testPrefix, testNow)] = []byte("x")
	m := env.newManager(t)

	res, err := m.Prune(context.Background(), false)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if res.Local.Deleted != 1 || res.Remote == nil || res.Remote.Deleted != 1 {
		t.Errorf("result = %+v / %+v", res.Local, res.Remote)
	}
	if _, err := os.Stat(expired); !errors.Is(err, os.ErrNotExist) {
		t.Error("expired artifact survived")
	}
	if store.has(oldKey) {
		t.Error("expired remote object survived")
	}
	assertNoLock(t, env)
}

func TestPrune_RespectsLock(t *testing.T) {
	env := newTestEnv(t)
	env.alive[4242] = true
	if err := os.MkdirAll(env.stateDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.cfg.LockPath(), []byte(`{"pid":4242}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m := env.newManager(t)

	if _, err := m.Prune(context.Background(), false); !errors.Is(err, lock.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if _, err := m.Prune(context.Background(), true); err != nil {
		t.Errorf("dry run must not need the lock: %v", err)
	}
}

func TestIsOrphan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{"20260314030000.zip", true},
		{"20260314030000.zip.part", true},
		{"20260314030000.zip.enc.part", true},
		{"20260314030000.zip.enc", false},
		{"20261399030000.zip", false},
		{"2026031403000.zip", false},
		{"export.zip", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := isOrphan(tt.name); got != tt.want {
			t.Errorf("isOrphan(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSweepOrphans_MissingDir(t *testing.T) {
	t.Parallel()

	if n := sweepOrphans(t.TempDir()+"/missing", zerolog.Nop()); n != 0 {
		t.Errorf("removed %d from missing dir", n)
	}
}
