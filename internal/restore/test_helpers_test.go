// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package restore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/tomtom215/snapvault/internal/crypto"
)

const (
	testPassphrase  = "correct-horse-battery"
	wrongPassphrase = "wrong-horse-battery-staple"
	testArtifact    = "20260314030000.zip.enc"
)

var (
	testParamsNew = crypto.Parameters{Name: "t2", Cipher: "aes-256-cbc", Salted: true, KDF: crypto.KDFPBKDF2, Digest: "sha256", Iterations: 10}
	testParamsOld = crypto.Parameters{Name: "t1", Cipher: "aes-256-cbc", Salted: true, KDF: crypto.KDFEVP, Digest: "md5", Iterations: 1}

	testModified = time.Date(2026, 3, 14, 2, 59, 0, 0, time.UTC)
)

// zipEntry describes one archive member written by writeZip.
type zipEntry struct {
	name string
	body string
	mode os.FileMode
}

// defaultEntries is a small export with a nested directory.
var defaultEntries = []zipEntry{
	{name: "manifest.json", body: `{"tables":2}`},
	{name: "data/"},
	{name: "data/users.csv", body: "id,name\n1,ada\n2,grace\n"},
	{name: "data/orders.csv", body: "id,user_id,total\n1,1,9.99\n"},
}

// writeZip writes a stored (uncompressed) zip archive and returns its path.
func writeZip(t *testing.T, dir string, entries []zipEntry) string {
	t.Helper()

	path := filepath.Join(dir, "export.zip")
	f, err := os.Create(path) //nolint:gosec // test fixture
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	w := zip.NewWriter(f)
	for _, e := range entries {
		hdr := &zip.FileHeader{Name: e.name, Method: zip.Store, Modified: testModified}
		if e.mode != 0 {
			hdr.SetMode(e.mode)
		}
		fw, err := w.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("CreateHeader(%s) failed: %v", e.name, err)
		}
		if _, err := io.WriteString(fw, e.body); err != nil {
			t.Fatalf("write %s failed: %v", e.name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zip Close failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

// seal encrypts plainPath into dir/testArtifact under params.
func seal(t *testing.T, c crypto.Cipher, plainPath, dir string, params crypto.Parameters) string {
	t.Helper()

	suite, err := crypto.NewSuite(params)
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}
	dest := filepath.Join(dir, testArtifact)
	if err := crypto.NewEnvelope(c, suite).EncryptTo(context.Background(), plainPath, dest, testPassphrase); err != nil {
		t.Fatalf("EncryptTo failed: %v", err)
	}
	return dest
}

// sealZip writes entries as a zip and encrypts it under the current test set.
func sealZip(t *testing.T, entries []zipEntry) string {
	t.Helper()
	work := t.TempDir()
	return seal(t, crypto.NativeCipher{}, writeZip(t, work, entries), t.TempDir(), testParamsNew)
}

// newTestEngine returns an engine negotiating t2 then t1, and its scratch
// parent directory.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()

	suite, err := crypto.NewSuite(testParamsNew, testParamsOld)
	if err != nil {
		t.Fatalf("NewSuite failed: %v", err)
	}
	scratch := t.TempDir()
	opts = append([]Option{WithScratchDir(scratch)}, opts...)
	return NewEngine(crypto.NewEnvelope(crypto.NativeCipher{}, suite), opts...), scratch
}

// assertEmptyDir fails if dir holds anything.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	for _, e := range entries {
		t.Errorf("left behind in %s: %s", dir, e.Name())
	}
}

// fingerprint returns the size and SHA-256 of the file at path.
func fingerprint(t *testing.T, path string) (int64, string) {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test fixture
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	sum := sha256.Sum256(data)
	return int64(len(data)), hex.EncodeToString(sum[:])
}

// rewrite replaces the file at path with mangle applied to its contents.
func rewrite(t *testing.T, path string, mangle func([]byte) []byte) {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test fixture
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(path, mangle(data), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

// flipFirst inverts the first byte of marker within data.
func flipFirst(t *testing.T, marker string) func([]byte) []byte {
	return func(data []byte) []byte {
		i := bytes.Index(data, []byte(marker))
		if i < 0 {
			t.Fatalf("marker %q not found", marker)
		}
		data[i] ^= 0xff
		return data
	}
}
