// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/transfer"
)

// touch creates an artifact file in dir with the given modification time.
func touch(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("Salted__"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	touch(t, dir, "20260312030000.zip.enc", base.Add(-48*time.Hour))
	touch(t, dir, "20260313030000.zip.enc", base)
	touch(t, dir, "20260311030000.zip.enc", base)
	touch(t, dir, "20260314030000.zip.enc.part", base.Add(time.Hour))
	touch(t, dir, "notes.txt", base.Add(time.Hour))

	got, err := Select(dir, "")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Name != "20260313030000.zip.enc" {
		t.Errorf("newest = %s, want tie broken by greatest name", got.Name)
	}

	got, err = Select(dir, "20260312030000.zip.enc")
	if err != nil || got.Path != filepath.Join(dir, "20260312030000.zip.enc") {
		t.Errorf("Select by name = %+v, %v", got, err)
	}

	if _, err := Select(dir, "20260314030000.zip.enc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("in-flight artifact: expected ErrNotFound, got %v", err)
	}
}

func TestSelect_Empty(t *testing.T) {
	t.Parallel()

	for _, dir := range []string{t.TempDir(), filepath.Join(t.TempDir(), "missing")} {
		if _, err := Select(dir, ""); !errors.Is(err, ErrNoArtifacts) {
			t.Errorf("Select(%s): expected ErrNoArtifacts, got %v", dir, err)
		}
	}
}

// fakeStore is an in-memory transfer.Store.
type fakeStore struct {
	objects     map[string][]byte
	listErr     error
	downloadErr error
}

func (s *fakeStore) Location() string { return "fake://bucket" }

func (s *fakeStore) Upload(context.Context, string, string) error { return nil }

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) List(_ context.Context, prefix string) ([]transfer.Object, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []transfer.Object
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix+"/") {
			out = append(out, transfer.Object{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) Download(_ context.Context, key, localPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	data, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("%w: no such key %s", transfer.ErrDownload, key)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{
		"backups/2026/03/12/20260312030000.zip.enc": []byte("older"),
		"backups/2026/03/14/20260314030000.zip.enc": []byte("newest"),
		"backups/2026/03/13/20260313030000.zip.enc": []byte("middle"),
		"backups/README.txt":                        []byte("not an artifact"),
		"backups/2026/03/13/20260314030000.zip.enc": []byte("date mismatch"),
	}}
}

func TestRemote_ListAndSelect(t *testing.T) {
	t.Parallel()

	r := &Remote{Store: newFakeStore(), Prefix: "backups", ScratchDir: t.TempDir()}
	ctx := context.Background()

	all, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List = %+v, want 3 artifacts", all)
	}
	if all[0].Name != "20260312030000.zip.enc" || all[2].Name != "20260314030000.zip.enc" {
		t.Errorf("order = %s .. %s", all[0].Name, all[2].Name)
	}
	if all[2].Size != int64(len("newest")) || all[2].Timestamp.Day() != 14 {
		t.Errorf("newest = %+v", all[2])
	}

	newest, err := r.Select(ctx, "")
	if err != nil || newest.Key != "backups/2026/03/14/20260314030000.zip.enc" {
		t.Errorf("Select newest = %+v, %v", newest, err)
	}
	byName, err := r.Select(ctx, "20260312030000.zip.enc")
	if err != nil || byName.Key != "backups/2026/03/12/20260312030000.zip.enc" {
		t.Errorf("Select by name = %+v, %v", byName, err)
	}
	byKey, err := r.Select(ctx, "backups/2026/03/13/20260313030000.zip.enc")
	if err != nil || byKey.Name != "20260313030000.zip.enc" {
		t.Errorf("Select by key = %+v, %v", byKey, err)
	}
	if _, err := r.Select(ctx, "20200101000000.zip.enc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemote_SelectEmptyAndErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	empty := &Remote{Store: &fakeStore{objects: map[string][]byte{}}, Prefix: "backups"}
	if _, err := empty.Select(ctx, ""); !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("expected ErrNoArtifacts, got %v", err)
	}

	failing := &Remote{Store: &fakeStore{listErr: transfer.ErrList}, Prefix: "backups"}
	if _, err := failing.Select(ctx, ""); !errors.Is(err, transfer.ErrList) {
		t.Errorf("expected ErrList, got %v", err)
	}
}

func TestRemote_Fetch(t *testing.T) {
	t.Parallel()

	scratch := t.TempDir()
	store := newFakeStore()
	r := &Remote{Store: store, Prefix: "backups", ScratchDir: scratch}
	ctx := context.Background()

	a, err := r.Select(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	path, cleanup, err := r.Fetch(ctx, a)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if filepath.Base(path) != a.Name {
		t.Errorf("path = %s", path)
	}
	if data, err := os.ReadFile(path); err != nil || string(data) != "newest" { //nolint:gosec // test fixture
		t.Errorf("fetched = %q, %v", data, err)
	}
	cleanup()
	cleanup()
	assertEmptyDir(t, scratch)

	store.downloadErr = transfer.ErrDownload
	if _, _, err := r.Fetch(ctx, a); !errors.Is(err, transfer.ErrDownload) {
		t.Errorf("expected ErrDownload, got %v", err)
	}
	assertEmptyDir(t, scratch)
}

func TestRemote_FetchAndVerify(t *testing.T) {
	t.Parallel()

	artifactPath := sealZip(t, defaultEntries)
	data, err := os.ReadFile(artifactPath) //nolint:gosec // test fixture
	if err != nil {
		t.Fatal(err)
	}
	key := "backups/2026/03/14/" + testArtifact
	r := &Remote{Store: &fakeStore{objects: map[string][]byte{key: data}}, Prefix: "backups", ScratchDir: t.TempDir()}
	ctx := context.Background()

	a, err := r.Select(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	path, cleanup, err := r.Fetch(ctx, a)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer cleanup()

	engine, _ := newTestEngine(t)
	m, err := engine.Verify(ctx, path, testPassphrase)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if m.FileCount != 3 {
		t.Errorf("FileCount = %d", m.FileCount)
	}
}
