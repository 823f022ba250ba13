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
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/export"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/retention"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/transfer"
)

const (
	testPassphrase = "Tr0ub4dor&3-horse-staple"
	testPayload    = "PK\x03\x04 database export payload"
	testCommand    = "/usr/local/bin/snapvault run"
	testPrefix     = "backups"
)

// testNow is the fixed clock of every test run.
var testNow = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)

var testParams = crypto.Parameters{
	Name: "test", Cipher: "aes-256-cbc", Salted: true, KDF: crypto.KDFPBKDF2, Digest: "sha256", Iterations: 10,
}

// testEnv holds the common test environment setup
type testEnv struct {
	backupDir string
	stateDir  string
	cfg       *config.Config

	exported  int
	exporter  export.Exporter
	cipher    crypto.Cipher
	store     *memoryStore
	scheduler *memoryScheduler
	disk      DiskProbe
	alive     map[int]bool
}

// newTestEnv creates a test environment with no remote and a working exporter.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Backup.Password = testPassphrase
	cfg.Backup.Dir = filepath.Join(root, "backups")
	cfg.Backup.StateDir = filepath.Join(root, "state")
	cfg.Export.Command = "true"
	cfg.Remote.S3.Prefix = testPrefix
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "0 3 * * *"
	cfg.Schedule.Command = testCommand
	cfg.Disk.MinFreePercent = 10

	env := &testEnv{
		backupDir: cfg.Backup.Dir,
		stateDir:  cfg.Backup.StateDir,
		cfg:       cfg,
		cipher:    crypto.NativeCipher{},
		scheduler: &memoryScheduler{},
		disk: DiskProbeFunc(func(context.Context, string) (DiskUsage, error) {
			return DiskUsage{Total: 1000, Free: 500}, nil
		}),
		alive: map[int]bool{},
	}
	env.exporter = export.ExporterFunc(func(_ context.Context, dest string) error {
		env.exported++
		return os.WriteFile(dest, []byte(testPayload), 0o600)
	})
	return env
}

// withRemote configures a remote store.
func (e *testEnv) withRemote() *memoryStore {
	e.store = newMemoryStore()
	e.cfg.Remote.S3.Bucket = "offsite"
	return e.store
}

func (e *testEnv) envelope(t *testing.T) *crypto.Envelope {
	t.Helper()
	suite, err := crypto.NewSuite(testParams)
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}
	return crypto.NewEnvelope(e.cipher, suite)
}

func (e *testEnv) lock() *lock.Lock {
	return lock.New(e.cfg.LockPath(), lock.ProcessTableFunc(func(_ context.Context, pid int) (bool, error) {
		return e.alive[pid], nil
	}))
}

// newManager builds a manager from the environment's current settings.
func (e *testEnv) newManager(t *testing.T) *Manager {
	t.Helper()

	deps := Dependencies{
		Lock:     e.lock(),
		Exporter: e.exporter,
		Envelope: e.envelope(t),
		Pruner: retention.NewPruner(
			retention.Policy{MaxAgeDays: e.cfg.Retention.MaxAgeDays, MinKeep: e.cfg.Retention.MinKeep},
			retention.WithClock(func() time.Time { return testNow }),
		),
		Disk: e.disk,
	}
	if e.store != nil {
		deps.Store = e.store
	}
	if e.scheduler != nil {
		deps.Scheduler = e.scheduler
	}

	m, err := NewManager(e.cfg, deps, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// seedArtifact writes a completed artifact aged ageDays relative to testNow.
func (e *testEnv) seedArtifact(t *testing.T, ts time.Time, ageDays int) string {
	t.Helper()
	if err := os.MkdirAll(e.backupDir, 0o750); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	path := filepath.Join(e.backupDir, ts.UTC().Format("20060102150405")+".zip.enc")
	if err := os.WriteFile(path, []byte("older artifact"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	mtime := testNow.Add(-time.Duration(ageDays)*24*time.Hour - time.Hour)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	return path
}

// listDir returns the sorted file names in dir; a missing dir is empty.
func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func assertNoLock(t *testing.T, e *testEnv) {
	t.Helper()
	if _, err := os.Stat(e.cfg.LockPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock marker still present after run (stat err: %v)", err)
	}
}

// memoryStore is an in-memory remote store.
type memoryStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	uploadErr   error
	dropUploads bool
	listErr     error
	deleteErr   error
	onUpload    func()
	deleted     []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (s *memoryStore) Location() string { return "memory://offsite" }

func (s *memoryStore) Upload(ctx context.Context, localPath, key string) error {
	if s.onUpload != nil {
		s.onUpload()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.uploadErr != nil {
		return s.uploadErr
	}
	data, err := os.ReadFile(localPath) //nolint:gosec // test fixture
	if err != nil {
		return err
	}
	if s.dropUploads {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *memoryStore) Download(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	data, ok := s.objects[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no such key %s", transfer.ErrDownload, key)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryStore) List(_ context.Context, prefix string) ([]transfer.Object, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transfer.Object
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix+"/") {
			out = append(out, transfer.Object{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *memoryStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// memoryScheduler is an in-memory host scheduler.
type memoryScheduler struct {
	entries []schedule.Entry
	listErr error
}

func (m *memoryScheduler) ListEntries(context.Context) ([]schedule.Entry, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]schedule.Entry(nil), m.entries...), nil
}

func (m *memoryScheduler) ReplaceEntriesMatching(_ context.Context, match func(schedule.Entry) bool, entry schedule.Entry) error {
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	m.entries = append(kept, entry)
	return nil
}

// failingCipher writes partial output and then fails.
type failingCipher struct{}

func (failingCipher) Encrypt(_ context.Context, _, out, _ string, _ crypto.Parameters) error {
	if err := os.WriteFile(out, []byte("Salted__partial"), 0o600); err != nil {
		return err
	}
	return fmt.Errorf("cipher process killed")
}

func (failingCipher) Decrypt(context.Context, string, string, string, crypto.Parameters) error {
	return fmt.Errorf("cipher process killed")
}
