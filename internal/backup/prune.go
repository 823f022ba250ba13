// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"context"
	"fmt"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/retention"
)

// PruneResult is the outcome of a standalone retention pass.
type PruneResult struct {
	DryRun bool             `json:"dry_run"`
	Policy retention.Policy `json:"policy"`

	Local  retention.Result  `json:"local"`
	Remote *retention.Result `json:"remote,omitempty"`

	// Candidates are filled on dry runs instead of deleting.
	LocalCandidates  []retention.Candidate `json:"local_candidates,omitempty"`
	RemoteCandidates []retention.Candidate `json:"remote_candidates,omitempty"`
}

// Prune applies retention without taking a backup. Deleting runs hold the
// process lock; a dry run only reads and does not.
func (m *Manager) Prune(ctx context.Context, dryRun bool) (*PruneResult, error) {
	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewRunID(ctx)
	}
	pruner := m.deps.Pruner
	store := m.deps.Store
	dir := m.cfg.Backup.Dir
	prefix := m.cfg.RemotePrefix()
	res := &PruneResult{DryRun: dryRun, Policy: pruner.Policy()}

	if dryRun {
		local, err := pruner.PreviewLocal(dir)
		if err != nil {
			return res, err
		}
		res.LocalCandidates = local
		if store != nil {
			remote, skipped, err := pruner.PreviewRemote(ctx, store, prefix)
			if err != nil {
				return res, err
			}
			res.RemoteCandidates = remote
			res.Remote = &retention.Result{Location: store.Location(), Skipped: skipped}
		}
		return res, nil
	}

	token, err := m.deps.Lock.Acquire(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := token.Release(); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to release process lock")
		}
	}()

	local, err := pruner.PruneLocal(ctx, dir)
	res.Local = local
	if err != nil {
		return res, fmt.Errorf("local retention failed: %w", err)
	}
	if store != nil {
		remote, err := pruner.PruneRemote(ctx, store, prefix)
		res.Remote = &remote
		if err != nil {
			return res, fmt.Errorf("remote retention failed: %w", err)
		}
	}
	return res, nil
}
