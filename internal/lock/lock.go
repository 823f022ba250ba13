// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package lock provides the host-wide process lock that keeps backup runs
// from overlapping.
//
// The lock is a marker file recording the holder's PID. A marker whose PID is
// no longer alive is stale and is reclaimed by the next Acquire. Markers are
// published with a hard link from a fully written temp file, so readers never
// observe a half-written marker.
//
//	tok, err := lock.New(path, lock.HostProcessTable{}).Acquire(ctx)
//	if err != nil {
//	    return err // lock.ErrAlreadyRunning when another run is alive
//	}
//	defer tok.Release()
package lock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/snapvault/internal/logging"
)

// ErrAlreadyRunning is returned when a live process holds the lock.
var ErrAlreadyRunning = errors.New("another backup run is in progress")

// maxAttempts bounds how often Acquire re-evaluates after losing a race.
const maxAttempts = 3

// held records the markers this process currently owns, keyed by path and
// PID. A marker carrying our own PID is only stale when it is absent here.
var held = struct {
	sync.Mutex
	keys map[heldKey]bool
}{keys: make(map[heldKey]bool)}

type heldKey struct {
	path string
	pid  int
}

func (l *Lock) key() heldKey {
	return heldKey{path: filepath.Clean(l.path), pid: l.pid}
}

// reserve claims the in-process slot for this lock, failing while a token
// from this process is outstanding.
func (l *Lock) reserve() bool {
	held.Lock()
	defer held.Unlock()
	k := l.key()
	if held.keys[k] {
		return false
	}
	held.keys[k] = true
	return true
}

func forget(k heldKey) {
	held.Lock()
	delete(held.keys, k)
	held.Unlock()
}

// Marker is the content of the lock file.
type Marker struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
	Hostname   string    `json:"hostname,omitempty"`
}

// Lock guards a single marker path.
type Lock struct {
	path  string
	procs ProcessTable
	pid   int
	now   func() time.Time
	link  func(oldname, newname string) error
}

// Option configures a Lock.
type Option func(*Lock)

// WithPID overrides the PID written to the marker.
func WithPID(pid int) Option {
	return func(l *Lock) { l.pid = pid }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Lock) { l.now = now }
}

// New returns a lock for the marker at path.
func New(path string, procs ProcessTable, opts ...Option) *Lock {
	l := &Lock{
		path:  path,
		procs: procs,
		pid:   os.Getpid(),
		now:   time.Now,
		link:  os.Link,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the marker path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock. A live holder, including an earlier Acquire in this
// process that has not been released, yields ErrAlreadyRunning; a dead or
// unreadable marker is discarded and replaced.
func (l *Lock) Acquire(ctx context.Context) (*Token, error) {
	if !l.reserve() {
		return nil, fmt.Errorf("%w: pid %d already holds %s", ErrAlreadyRunning, l.pid, l.path)
	}
	tok, err := l.acquire(ctx)
	if err != nil {
		forget(l.key())
		return nil, err
	}
	return tok, nil
}

func (l *Lock) acquire(ctx context.Context) (*Token, error) {
	logger := logging.Ctx(ctx)

	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		marker := Marker{PID: l.pid, AcquiredAt: l.now().UTC()}
		if host, err := os.Hostname(); err == nil {
			marker.Hostname = host
		}

		err := l.publish(marker)
		if err == nil {
			logger.Debug().Int("pid", l.pid).Str("path", l.path).Msg("Lock acquired")
			return &Token{Marker: marker, path: l.path, key: l.key()}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}

		existing, readErr := readMarker(l.path)
		if errors.Is(readErr, fs.ErrNotExist) {
			continue // released between our attempt and the read
		}
		if readErr == nil && existing.PID > 0 && existing.PID != l.pid {
			alive, err := l.procs.IsAlive(ctx, existing.PID)
			if err != nil {
				return nil, fmt.Errorf("failed to check lock holder pid %d: %w", existing.PID, err)
			}
			if alive {
				return nil, fmt.Errorf("%w: pid %d holds %s since %s",
					ErrAlreadyRunning, existing.PID, l.path, existing.AcquiredAt.Format(time.RFC3339))
			}
		}

		logger.Warn().
			Int("stale_pid", existing.PID).
			AnErr("read_error", readErr).
			Str("path", l.path).
			Msg("Reclaiming stale lock")
		if err := l.reclaim(existing, readErr == nil); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed to acquire lock %s after %d attempts", l.path, maxAttempts)
}

// publish writes marker to a temp file and hard-links it into place. The link
// fails with fs.ErrExist if any marker is present.
func (l *Lock) publish(marker Marker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to encode lock marker: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), ".lock-*")
	if err != nil {
		return fmt.Errorf("failed to create lock temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // link holds the inode

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // already failing
		return fmt.Errorf("failed to write lock marker: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close lock marker: %w", err)
	}

	if err := l.link(tmpPath, l.path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fs.ErrExist
		}
		return fmt.Errorf("failed to publish lock marker: %w", err)
	}
	return nil
}

// reclaim removes a stale marker. The marker is first renamed aside and
// compared with what was judged stale; if another process replaced it in the
// meantime, it is linked back and the next attempt re-evaluates it. If a
// third marker was published while it was aside, the lock is taken.
func (l *Lock) reclaim(stale Marker, parsed bool) error {
	grave := l.path + ".stale-" + strconv.Itoa(l.pid)
	if err := os.Rename(l.path, grave); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to move stale lock aside: %w", err)
	}
	defer os.Remove(grave) //nolint:errcheck // removing the moved marker is the point

	moved, err := readMarker(grave)
	replaced := err == nil && (!parsed || moved.PID != stale.PID || !moved.AcquiredAt.Equal(stale.AcquiredAt))
	if replaced {
		if err := l.link(grave, l.path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, moved.PID, l.path)
			}
			return fmt.Errorf("failed to restore lock marker: %w", err)
		}
	}
	return nil
}

// readMarker parses a marker file. A bare decimal PID is accepted for
// markers written by older shell-based tooling.
func readMarker(path string) (Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Marker{}, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Marker{}, errors.New("empty lock marker")
	}

	var m Marker
	if data[0] == '{' {
		if err := json.Unmarshal(data, &m); err != nil {
			return Marker{}, fmt.Errorf("malformed lock marker: %w", err)
		}
		return m, nil
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return Marker{}, fmt.Errorf("malformed lock marker: %w", err)
	}
	return Marker{PID: pid}, nil
}

// Token proves ownership of the lock until released.
type Token struct {
	Marker
	path string
	key  heldKey
	once sync.Once
	err  error
}

// Release removes the marker. It is safe to call more than once; only the
// first call has an effect.
func (t *Token) Release() error {
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			t.err = fmt.Errorf("failed to release lock %s: %w", t.path, err)
		}
		forget(t.key)
	})
	return t.err
}
