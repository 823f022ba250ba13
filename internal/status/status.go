// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package status aggregates a read-only health report of the backup system.
//
// The reporter never mutates anything: it scans the backup directory,
// inspects the lock marker, reads the host schedule and the run journal,
// probes free disk space and optionally test-decrypts the newest local
// artifact. A failing probe becomes a warning in the report; Report only
// returns an error for unusable configuration.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/backup"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/restore"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/transfer"
)

// MaxArtifactAge is the age beyond which the newest artifact is reported.
const MaxArtifactAge = 24 * time.Hour

// Warning codes.
const (
	WarnNoArtifacts       = "no_artifacts"
	WarnStaleArtifact     = "stale_artifact"
	WarnDiskLow           = "disk_low"
	WarnDiskCritical      = "disk_critical"
	WarnDiskUnknown       = "disk_unknown"
	WarnNoSchedule        = "no_schedule"
	WarnScheduleUnknown   = "schedule_unknown"
	WarnVerifyFailed      = "verify_failed"
	WarnStaleLock         = "stale_lock"
	WarnLockUnknown       = "lock_unknown"
	WarnLastRunFailed     = "last_run_failed"
	WarnJournalUnreadable = "journal_unreadable"
	WarnArtifactsUnknown  = "artifacts_unknown"
	WarnRemoteUnavailable = "remote_unavailable"
)

// Verifier test-decrypts an artifact. *restore.Engine implements it.
type Verifier interface {
	Verify(ctx context.Context, artifactPath, passphrase string) (*restore.Manifest, error)
}

// Warning is one finding that needs operator attention.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ArtifactSummary describes the local artifacts.
type ArtifactSummary struct {
	Dir        string         `json:"dir"`
	Count      int            `json:"count"`
	TotalBytes int64          `json:"total_bytes"`
	Oldest     *artifact.Info `json:"oldest,omitempty"`
	Newest     *artifact.Info `json:"newest,omitempty"`
}

// RemoteSummary describes the remote artifacts.
type RemoteSummary struct {
	Enabled    bool                    `json:"enabled"`
	Location   string                  `json:"location,omitempty"`
	Count      int                     `json:"count"`
	TotalBytes int64                   `json:"total_bytes"`
	Newest     *restore.RemoteArtifact `json:"newest,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// ScheduleSummary describes the host schedule entry.
type ScheduleSummary struct {
	Enabled    bool       `json:"enabled"`
	Checked    bool       `json:"checked"`
	Registered bool       `json:"registered"`
	Expression string     `json:"expression,omitempty"`
	Command    string     `json:"command,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// DiskSummary describes free space on the backup filesystem.
type DiskSummary struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	FreePercent float64 `json:"free_percent"`
	Error       string  `json:"error,omitempty"`
}

// VerifySummary is the outcome of test-decrypting the newest local artifact.
type VerifySummary struct {
	Artifact   string `json:"artifact"`
	OK         bool   `json:"ok"`
	Parameters string `json:"parameters,omitempty"`
	FileCount  int    `json:"file_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Report is a point-in-time status snapshot.
type Report struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Artifacts    ArtifactSummary   `json:"artifacts"`
	Remote       RemoteSummary     `json:"remote"`
	NewestAge    *time.Duration    `json:"newest_age_ns,omitempty"`
	Lock         lock.State        `json:"lock"`
	Schedule     ScheduleSummary   `json:"schedule"`
	Disk         DiskSummary       `json:"disk"`
	Verification *VerifySummary    `json:"verification,omitempty"`
	LastRun      *backup.RunRecord `json:"last_run,omitempty"`
	Warnings     []Warning         `json:"warnings"`
}

// Healthy reports whether the report carries no warnings.
func (r *Report) Healthy() bool {
	return len(r.Warnings) == 0
}

func (r *Report) warn(code, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Code: code, Message: fmt.Sprintf(format, args...)})
}

// Dependencies are the probes a Reporter reads from. Scheduler, Store and
// Verifier are optional: a nil value skips that section.
type Dependencies struct {
	Lock      *lock.Lock
	Scheduler schedule.Scheduler
	Store     transfer.Store
	Verifier  Verifier
	Disk      backup.DiskProbe
	Journal   *backup.Journal
}

// Reporter builds status reports.
type Reporter struct {
	cfg  *config.Config
	deps Dependencies
	now  func() time.Time
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter. Lock is required.
func NewReporter(cfg *config.Config, deps Dependencies, opts ...Option) (*Reporter, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Lock == nil {
		return nil, errors.New("lock is required")
	}
	if deps.Disk == nil {
		deps.Disk = backup.HostDiskProbe{}
	}
	if deps.Journal == nil {
		deps.Journal = backup.NewJournal(cfg.Backup.StateDir)
	}
	r := &Reporter{cfg: cfg, deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Report collects the current status. It fails only when the backup
// directory is not configured.
func (r *Reporter) Report(ctx context.Context) (*Report, error) {
	if r.cfg.Backup.Dir == "" {
		return nil, fmt.Errorf("%w: backup directory is not set", config.ErrConfig)
	}

	rep := &Report{GeneratedAt: r.now().UTC(), Warnings: []Warning{}}
	r.artifacts(rep)
	r.remote(ctx, rep)
	r.freshness(rep)
	r.lockState(ctx, rep)
	r.schedule(ctx, rep)
	r.disk(ctx, rep)
	r.verify(ctx, rep)
	r.lastRun(rep)

	logging.Ctx(ctx).Debug().
		Int("artifacts", rep.Artifacts.Count).
		Int("warnings", len(rep.Warnings)).
		Msg("Status report collected")
	return rep, nil
}

func (r *Reporter) artifacts(rep *Report) {
	rep.Artifacts.Dir = r.cfg.Backup.Dir
	infos, err := artifact.Scan(r.cfg.Backup.Dir)
	if err != nil {
		rep.warn(WarnArtifactsUnknown, "cannot list artifacts: %v", err)
		return
	}
	rep.Artifacts.Count = len(infos)
	rep.Artifacts.TotalBytes = artifact.TotalSize(infos)
	if len(infos) == 0 {
		return
	}
	oldest := infos[0]
	rep.Artifacts.Oldest = &oldest
	if newest, ok := artifact.Latest(infos); ok {
		rep.Artifacts.Newest = &newest
	}
}

func (r *Reporter) remote(ctx context.Context, rep *Report) {
	if r.deps.Store == nil {
		return
	}
	rep.Remote.Enabled = true
	rep.Remote.Location = r.deps.Store.Location()

	remote := &restore.Remote{Store: r.deps.Store, Prefix: r.cfg.RemotePrefix()}
	all, err := remote.List(ctx)
	if err != nil {
		rep.Remote.Error = err.Error()
		rep.warn(WarnRemoteUnavailable, "cannot list %s: %v", rep.Remote.Location, err)
		return
	}
	rep.Remote.Count = len(all)
	for _, a := range all {
		rep.Remote.TotalBytes += a.Size
	}
	if len(all) > 0 {
		newest := all[len(all)-1]
		rep.Remote.Newest = &newest
	}
}

// freshness warns when no artifact exists anywhere or the newest one, local
// or remote, is older than MaxArtifactAge.
func (r *Reporter) freshness(rep *Report) {
	var newest time.Time
	if a := rep.Artifacts.Newest; a != nil {
		newest = a.ModTime
	}
	if a := rep.Remote.Newest; a != nil && a.Timestamp.After(newest) {
		newest = a.Timestamp
	}
	if newest.IsZero() {
		if rep.Remote.Error == "" && !hasWarning(rep, WarnArtifactsUnknown) {
			rep.warn(WarnNoArtifacts, "no backup artifacts found")
		}
		return
	}

	age := rep.GeneratedAt.Sub(newest)
	rep.NewestAge = &age
	if age > MaxArtifactAge {
		rep.warn(WarnStaleArtifact, "newest artifact is %s old (limit %s)", age.Round(time.Minute), MaxArtifactAge)
	}
}

func (r *Reporter) lockState(ctx context.Context, rep *Report) {
	state, err := r.deps.Lock.Inspect(ctx)
	if err != nil {
		rep.warn(WarnLockUnknown, "cannot inspect lock: %v", err)
		return
	}
	rep.Lock = state
	if state.Status == lock.StatusStale {
		pid := 0
		if state.Marker != nil {
			pid = state.Marker.PID
		}
		rep.warn(WarnStaleLock, "stale lock marker at %s (pid %d); the next run reclaims it", r.deps.Lock.Path(), pid)
	}
}

func (r *Reporter) schedule(ctx context.Context, rep *Report) {
	rep.Schedule.Enabled = r.cfg.Schedule.Enabled
	rep.Schedule.Command = r.cfg.Schedule.Command
	if r.deps.Scheduler == nil {
		return
	}
	rep.Schedule.Checked = true

	entry, err := schedule.Lookup(ctx, r.deps.Scheduler, r.cfg.Schedule.Command)
	if err != nil {
		rep.Schedule.Error = err.Error()
		rep.warn(WarnScheduleUnknown, "cannot read host schedule: %v", err)
		return
	}
	if entry == nil {
		rep.warn(WarnNoSchedule, "no schedule entry runs %q", r.cfg.Schedule.Command)
		return
	}

	rep.Schedule.Registered = true
	rep.Schedule.Expression = entry.Expression
	if next, err := schedule.NextRun(entry.Expression, rep.GeneratedAt); err == nil {
		rep.Schedule.NextRun = &next
	} else {
		rep.Schedule.Error = err.Error()
	}
}

func (r *Reporter) disk(ctx context.Context, rep *Report) {
	rep.Disk.Path = r.cfg.Backup.Dir
	usage, err := r.deps.Disk.Usage(ctx, r.cfg.Backup.Dir)
	if err != nil {
		rep.Disk.Error = err.Error()
		rep.warn(WarnDiskUnknown, "cannot measure free space: %v", err)
		return
	}
	rep.Disk.TotalBytes = usage.Total
	rep.Disk.FreeBytes = usage.Free
	rep.Disk.FreePercent = usage.FreePercent()

	switch free := rep.Disk.FreePercent; {
	case free < r.cfg.Disk.MinFreePercent:
		rep.warn(WarnDiskCritical, "%.1f%% free on %s; runs abort below %.1f%%", free, rep.Disk.Path, r.cfg.Disk.MinFreePercent)
	case free < r.cfg.Disk.WarnFreePercent:
		rep.warn(WarnDiskLow, "%.1f%% free on %s (warning below %.1f%%)", free, rep.Disk.Path, r.cfg.Disk.WarnFreePercent)
	}
}

func (r *Reporter) verify(ctx context.Context, rep *Report) {
	newest := rep.Artifacts.Newest
	if r.deps.Verifier == nil || newest == nil {
		return
	}

	v := &VerifySummary{Artifact: newest.Name}
	rep.Verification = v
	m, err := r.deps.Verifier.Verify(ctx, newest.Path, r.cfg.Backup.Password)
	switch {
	case errors.Is(err, restore.ErrNotFound):
		// Pruned or uploaded between scan and verify.
		rep.Verification = nil
	case err != nil:
		v.Error = err.Error()
		rep.warn(WarnVerifyFailed, "newest artifact %s failed verification: %v", newest.Name, err)
	default:
		v.OK = true
		v.Parameters = m.Parameters
		v.FileCount = m.FileCount
	}
}

func (r *Reporter) lastRun(rep *Report) {
	last, err := r.deps.Journal.Last()
	if err != nil {
		rep.warn(WarnJournalUnreadable, "cannot read run journal: %v", err)
		return
	}
	rep.LastRun = last
	if last != nil && last.Outcome == backup.OutcomeFailed {
		rep.warn(WarnLastRunFailed, "last run %s failed: %s", last.RunID, last.Error)
	}
}

func hasWarning(rep *Report, code string) bool {
	for _, w := range rep.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
