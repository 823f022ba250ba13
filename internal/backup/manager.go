// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
manager.go - Lifecycle Orchestrator

This file contains the Manager, which owns one backup run from lock
acquisition to lock release.

Manager Responsibilities:
  - Stage ordering through the run state machine
  - Free space check before the export starts
  - Rollback of the current run's files on failure or cancellation
  - Degrading to a local-only artifact when the remote is unavailable
  - Run journal and metrics

Thread Safety:
A Manager may be shared, but runs are serialized across processes by the
process lock; a second concurrent Run fails with lock.ErrAlreadyRunning
before touching any file.
*/

//nolint:staticcheck // File documentation, not package doc
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/config"
	"github.com/tomtom215/snapvault/internal/crypto"
	"github.com/tomtom215/snapvault/internal/export"
	"github.com/tomtom215/snapvault/internal/lock"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/retention"
	"github.com/tomtom215/snapvault/internal/schedule"
	"github.com/tomtom215/snapvault/internal/transfer"
)

// Dependencies are the collaborators of a run.
type Dependencies struct {
	Lock     *lock.Lock
	Exporter export.Exporter
	Envelope *crypto.Envelope
	Pruner   *retention.Pruner

	// Store is nil when remote transfer is not configured.
	Store transfer.Store
	// Scheduler is nil when schedule registration is disabled.
	Scheduler schedule.Scheduler
	// Disk defaults to HostDiskProbe.
	Disk DiskProbe
	// Journal defaults to runs.json in the state directory.
	Journal *Journal
}

// Manager runs backup lifecycles.
type Manager struct {
	cfg  *config.Config
	deps Dependencies
	now  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used for artifact names and the journal.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager.
func NewManager(cfg *config.Config, deps Dependencies, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("backup configuration is required")
	}
	switch {
	case deps.Lock == nil:
		return nil, fmt.Errorf("process lock is required")
	case deps.Exporter == nil:
		return nil, fmt.Errorf("exporter is required")
	case deps.Envelope == nil:
		return nil, fmt.Errorf("crypto envelope is required")
	case deps.Pruner == nil:
		return nil, fmt.Errorf("retention pruner is required")
	}
	if deps.Disk == nil {
		deps.Disk = HostDiskProbe{}
	}
	if deps.Journal == nil {
		deps.Journal = NewJournal(cfg.Backup.StateDir)
	}

	m := &Manager{cfg: cfg, deps: deps, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Journal returns the run journal.
func (m *Manager) Journal() *Journal {
	return m.deps.Journal
}

// RunResult describes a finished run.
type RunResult struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	State      State              `json:"state"`
	Path       []State            `json:"path"`
	Outcome    string             `json:"outcome"`
	Artifact   *artifact.Artifact `json:"artifact,omitempty"`
	Disk       *DiskUsage         `json:"disk,omitempty"`

	// Warnings lists the non-fatal failures that degraded the run.
	Warnings        []string          `json:"warnings,omitempty"`
	UploadError     string            `json:"upload_error,omitempty"`
	LocalRetention  *retention.Result `json:"local_retention,omitempty"`
	RemoteRetention *retention.Result `json:"remote_retention,omitempty"`
	Schedule        string            `json:"schedule,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// Duration returns the wall time of the run.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// run is the state of one Run call.
type run struct {
	m      *Manager
	fsm    *machine
	result *RunResult
	log    zerolog.Logger

	// owned lists files created by this run that rollback removes. It is
	// cleared once the encrypted artifact is complete.
	owned []string

	exportPath string
	encPath    string
}

// Run executes one backup lifecycle. The returned result is never nil, even
// when err is not.
func (m *Manager) Run(ctx context.Context) (result *RunResult, err error) {
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewRunID(ctx)
	}
	r := &run{
		m:   m,
		fsm: newMachine(),
		result: &RunResult{
			RunID:     logging.RunIDFromContext(ctx),
			StartedAt: m.now(),
		},
		log: *logging.Ctx(ctx),
	}
	result = r.result

	token, err := m.deps.Lock.Acquire(ctx)
	if err != nil {
		r.fail(err)
		r.finish(err)
		return result, err
	}

	defer func() {
		if err != nil {
			r.rollback()
			r.fail(err)
		} else if advErr := r.fsm.advance(StateDone); advErr != nil {
			err = advErr
			r.fail(err)
		}
		r.finish(err)
		if relErr := token.Release(); relErr != nil {
			r.log.Error().Err(relErr).Msg("Failed to release process lock")
		}
	}()

	if err = r.fsm.advance(StateLocked); err != nil {
		return result, err
	}
	r.log.Info().Int("pid", token.PID).Msg("Backup run started")

	steps := []func(context.Context) error{
		r.prepare,
		r.export,
		r.encrypt,
		r.transfer,
		r.retain,
		r.ensureSchedule,
	}
	for _, step := range steps {
		if err = ctx.Err(); err != nil {
			err = fmt.Errorf("backup run canceled: %w", err)
			return result, err
		}
		if err = step(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// prepare names the artifact, clears leftovers of killed runs and checks
// free space.
func (r *run) prepare(ctx context.Context) error {
	dir := r.m.cfg.Backup.Dir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	sweepOrphans(dir, r.log)

	usage, err := CheckSpace(ctx, r.m.deps.Disk, dir, r.m.cfg.Disk.MinFreePercent)
	switch {
	case errors.Is(err, ErrInsufficientSpace):
		return err
	case err != nil:
		r.log.Warn().Err(err).Msg("Disk usage unavailable, skipping free space check")
	default:
		r.result.Disk = &usage
	}

	art := artifact.New(r.m.now())
	r.result.Artifact = art
	r.exportPath = filepath.Join(dir, artifact.ExportName(art.Timestamp))
	r.encPath = filepath.Join(dir, art.Name())
	r.log = r.log.With().Str("artifact", art.Name()).Logger()

	if _, err := os.Stat(r.encPath); err == nil {
		return fmt.Errorf("artifact %s already exists", art.Name())
	}
	return nil
}

func (r *run) export(ctx context.Context) error {
	r.own(r.exportPath)
	h, err := export.Run(ctx, r.m.deps.Exporter, r.exportPath)
	if err != nil {
		return err
	}
	metrics.RecordStage("export", h.Duration)

	if err := r.result.Artifact.Advance(artifact.StageExported); err != nil {
		return err
	}
	return r.fsm.advance(StateExported)
}

// encrypt produces the encrypted artifact and removes the plaintext. From
// here on the artifact is complete and survives any later failure.
func (r *run) encrypt(ctx context.Context) error {
	start := time.Now()
	r.own(r.encPath, artifact.PartName(r.encPath))

	if err := r.m.deps.Envelope.EncryptTo(ctx, r.exportPath, r.encPath, r.m.cfg.Backup.Password); err != nil {
		return err
	}
	if err := os.Remove(r.exportPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove plaintext export %s: %w", r.exportPath, err)
	}
	info, err := os.Stat(r.encPath)
	if err != nil {
		return fmt.Errorf("%w: %w", crypto.ErrEncrypt, err)
	}

	art := r.result.Artifact
	if err := art.Advance(artifact.StageEncrypted); err != nil {
		return err
	}
	art.SizeBytes = info.Size()
	art.Location.LocalPath = r.encPath
	r.owned = nil

	metrics.RecordStage("encrypt", time.Since(start))
	metrics.ArtifactSizeBytes.Set(float64(art.SizeBytes))
	r.log.Info().
		Str("params", r.m.deps.Envelope.Suite().Current().Name).
		Int64("size_bytes", art.SizeBytes).
		Msg("Artifact encrypted, plaintext removed")
	return r.fsm.advance(StateEncrypted)
}

// transfer uploads the artifact when a remote is configured. Any upload
// failure keeps the local copy and degrades the run.
func (r *run) transfer(ctx context.Context) error {
	art := r.result.Artifact
	store := r.m.deps.Store
	if store == nil {
		r.log.Info().Msg("Remote transfer not configured, keeping artifact locally")
		return r.localOnly()
	}

	start := time.Now()
	key := artifact.RemoteKey(r.m.cfg.RemotePrefix(), art.Timestamp)
	err := transfer.UploadVerified(ctx, store, r.encPath, key)
	metrics.RecordStage("upload", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if advErr := art.Advance(artifact.StageLocalOnly); advErr != nil {
				return advErr
			}
			return fmt.Errorf("backup run canceled during upload: %w", ctxErr)
		}
		r.result.UploadError = err.Error()
		r.warn("upload failed, artifact kept locally")
		r.log.Warn().Err(err).Str("key", key).Msg("Upload failed, artifact kept locally")
		return r.localOnly()
	}

	art.Location.Bucket = store.Location()
	art.Location.Key = key
	if err := os.Remove(r.encPath); err != nil {
		r.log.Warn().Err(err).Msg("Failed to remove local copy after verified upload")
	} else {
		art.Location.LocalPath = ""
	}
	if err := art.Advance(artifact.StageUploaded); err != nil {
		return err
	}
	return r.fsm.advance(StateUploaded)
}

func (r *run) localOnly() error {
	if err := r.result.Artifact.Advance(artifact.StageLocalOnly); err != nil {
		return err
	}
	return r.fsm.advance(StateLocalOnly)
}

// retain prunes expired artifacts locally and, when configured, remotely.
// Retention problems never fail the run.
func (r *run) retain(ctx context.Context) error {
	start := time.Now()
	pruner := r.m.deps.Pruner

	local, err := pruner.PruneLocal(ctx, r.m.cfg.Backup.Dir)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("backup run canceled during retention: %w", ctxErr)
		}
		r.warn("local retention failed")
		r.log.Warn().Err(err).Msg("Local retention failed")
	}
	r.result.LocalRetention = &local
	if local.Failed > 0 {
		r.warn(fmt.Sprintf("local retention could not delete %d artifacts", local.Failed))
	}

	if store := r.m.deps.Store; store != nil {
		remote, err := pruner.PruneRemote(ctx, store, r.m.cfg.RemotePrefix())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("backup run canceled during retention: %w", ctxErr)
			}
			r.warn("remote retention failed")
			r.log.Warn().Err(err).Msg("Remote retention failed")
		}
		r.result.RemoteRetention = &remote
		if remote.Failed > 0 {
			r.warn(fmt.Sprintf("remote retention could not delete %d artifacts", remote.Failed))
		}
	}

	metrics.RecordStage("retention", time.Since(start))
	return r.fsm.advance(StateRetained)
}

// ensureSchedule registers the run command with the host scheduler. A
// failure is logged and never revokes the backup.
func (r *run) ensureSchedule(ctx context.Context) error {
	sc := r.m.cfg.Schedule
	if !sc.Enabled || r.m.deps.Scheduler == nil {
		r.result.Schedule = "disabled"
		return r.fsm.advance(StateScheduleEnsured)
	}

	start := time.Now()
	outcome, err := schedule.Ensure(ctx, r.m.deps.Scheduler, sc.Cron, sc.Command)
	metrics.RecordStage("schedule", time.Since(start))
	if err != nil {
		r.result.Schedule = "failed"
		r.warn("schedule registration failed")
		r.log.Warn().Err(err).Msg("Schedule registration failed")
	} else {
		r.result.Schedule = outcome.String()
	}
	return r.fsm.advance(StateScheduleEnsured)
}

func (r *run) own(paths ...string) {
	r.owned = append(r.owned, paths...)
}

func (r *run) warn(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
}

// fail moves the machine to Failed unless it is already terminal.
func (r *run) fail(cause error) {
	if r.fsm.state.Terminal() {
		return
	}
	from := r.fsm.state
	if err := r.fsm.advance(StateFailed); err != nil {
		r.log.Error().Err(err).Msg("Unexpected state machine error")
		return
	}
	r.result.Error = cause.Error()
	r.log.Debug().Str("from", from.String()).Msg("Run entered failed state")
}

// rollback removes the files this run created that never became a complete
// artifact. Completed artifacts, including earlier runs', are left alone.
func (r *run) rollback() {
	for i := len(r.owned) - 1; i >= 0; i-- {
		path := r.owned[i]
		err := os.Remove(path)
		switch {
		case err == nil:
			r.log.Info().Str("path", path).Msg("Rolled back incomplete artifact file")
		case errors.Is(err, os.ErrNotExist):
		default:
			r.log.Error().Err(err).Str("path", path).Msg("Failed to roll back incomplete artifact file")
		}
	}
	r.owned = nil

	if art := r.result.Artifact; art != nil && art.Stage == artifact.StageExported {
		_ = art.Advance(artifact.StageDeleted)
	}
}

// finish classifies the run, logs the single outcome entry, and records the
// journal and metrics.
func (r *run) finish(err error) {
	res := r.result
	res.FinishedAt = r.m.now()
	res.State = r.fsm.state
	res.Path = append([]State(nil), r.fsm.path...)

	switch {
	case errors.Is(err, lock.ErrAlreadyRunning):
		res.Outcome = OutcomeAlreadyRunning
	case err != nil:
		res.Outcome = OutcomeFailed
	case len(res.Warnings) > 0:
		res.Outcome = OutcomeDegraded
	default:
		res.Outcome = OutcomeSuccess
	}

	if err != nil {
		r.log.Error().Err(err).
			Str("outcome", res.Outcome).
			Dur("duration", res.Duration()).
			Msg("Backup run failed")
	} else {
		r.log.Info().
			Str("outcome", res.Outcome).
			Strs("warnings", res.Warnings).
			Dur("duration", res.Duration()).
			Msg("Backup run complete")
	}

	metrics.RecordRun(res.Outcome, res.Duration(), res.FinishedAt)
	if res.Outcome == OutcomeAlreadyRunning {
		// The journal belongs to the lock holder.
		return
	}

	journal := r.m.deps.Journal
	if res.Outcome == OutcomeFailed {
		if last := lastSuccess(journal); !last.IsZero() {
			metrics.LastSuccessTimestamp.Set(float64(last.Unix()))
		}
	}
	if jErr := journal.Append(recordFor(res)); jErr != nil {
		r.log.Warn().Err(jErr).Msg("Failed to update run journal")
	}
	if path := r.m.cfg.Metrics.Textfile; path != "" {
		if mErr := metrics.WriteTextfile(path); mErr != nil {
			r.log.Warn().Err(mErr).Msg("Failed to write metrics textfile")
		}
	}
}

func recordFor(res *RunResult) RunRecord {
	rec := RunRecord{
		RunID:           res.RunID,
		StartedAt:       res.StartedAt,
		FinishedAt:      res.FinishedAt,
		State:           res.State,
		Outcome:         res.Outcome,
		Error:           res.Error,
		Warnings:        res.Warnings,
		UploadError:     res.UploadError,
		LocalRetention:  res.LocalRetention,
		RemoteRetention: res.RemoteRetention,
		Schedule:        res.Schedule,
	}
	if art := res.Artifact; art != nil && art.Stage != 0 {
		rec.Artifact = art.Name()
		rec.Stage = art.Stage.String()
		rec.SizeBytes = art.SizeBytes
		rec.RemoteKey = art.Location.Key
	}
	return rec
}

// lastSuccess returns the finish time of the newest run that produced an
// artifact, so a failed run's textfile does not reset the gauge.
func lastSuccess(j *Journal) time.Time {
	runs, err := j.Load()
	if err != nil {
		return time.Time{}
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Outcome == OutcomeSuccess || runs[i].Outcome == OutcomeDegraded {
			return runs[i].FinishedAt
		}
	}
	return time.Time{}
}
