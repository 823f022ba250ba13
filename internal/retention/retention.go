// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

// Package retention prunes artifacts older than the configured age.
//
// Age is measured in whole days: from the file modification time for local
// artifacts and from the date encoded in the key for remote ones. An artifact
// is eligible only when its age is strictly greater than MaxAgeDays, and the
// newest MinKeep artifacts in each location are never eligible. Remote keys
// that do not parse are skipped, never deleted.
package retention

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/snapvault/internal/artifact"
	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
	"github.com/tomtom215/snapvault/internal/transfer"
)

const day = 24 * time.Hour

// Policy is the age-based retention rule.
type Policy struct {
	MaxAgeDays int `json:"max_age_days"`
	MinKeep    int `json:"min_keep"`
}

// AgeDays returns the whole days elapsed from t to now, rounded down.
// Timestamps in the future have age zero.
func AgeDays(now, t time.Time) int {
	d := now.Sub(t)
	if d < 0 {
		return 0
	}
	return int(d / day)
}

// Eligible reports whether an artifact of the given age may be deleted.
func (p Policy) Eligible(ageDays int) bool {
	return ageDays > p.MaxAgeDays
}

// Candidate is an artifact considered by retention.
type Candidate struct {
	// Name is the file name (local) or key (remote).
	Name    string    `json:"name"`
	Path    string    `json:"path,omitempty"`
	Created time.Time `json:"created"`
	AgeDays int       `json:"age_days"`
	Size    int64     `json:"size_bytes"`
}

// Result summarizes one pruning pass.
type Result struct {
	Location string `json:"location"`
	// Considered counts artifacts that parsed and were evaluated.
	Considered int `json:"considered"`
	Deleted    int `json:"deleted"`
	Failed     int `json:"failed"`
	// Skipped counts remote keys that did not match the artifact layout.
	Skipped int      `json:"skipped"`
	Removed []string `json:"removed,omitempty"`
}

// Pruner applies a Policy.
type Pruner struct {
	policy  Policy
	now     func() time.Time
	limiter *rate.Limiter
}

// Option configures a Pruner.
type Option func(*Pruner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pruner) { p.now = now }
}

// WithDeleteRate limits remote deletions per second; zero or less is unlimited.
func WithDeleteRate(perSecond float64) Option {
	return func(p *Pruner) {
		if perSecond <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewPruner creates a Pruner for policy.
func NewPruner(policy Policy, opts ...Option) *Pruner {
	p := &Pruner{
		policy:  policy,
		now:     time.Now,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the policy being applied.
func (p *Pruner) Policy() Policy {
	return p.policy
}

// PreviewLocal returns the local artifacts PruneLocal would delete.
func (p *Pruner) PreviewLocal(dir string) ([]Candidate, error) {
	all, err := p.localCandidates(dir)
	if err != nil {
		return nil, err
	}
	return p.eligible(all), nil
}

func (p *Pruner) localCandidates(dir string) ([]Candidate, error) {
	infos, err := artifact.Scan(dir)
	if err != nil {
		return nil, err
	}
	now := p.now()
	all := make([]Candidate, 0, len(infos))
	for _, info := range infos {
		all = append(all, Candidate{
			Name:    info.Name,
			Path:    info.Path,
			Created: info.ModTime,
			AgeDays: AgeDays(now, info.ModTime),
			Size:    info.Size,
		})
	}
	return all, nil
}

// PruneLocal deletes expired artifacts in dir. Per-file failures are logged
// and counted; pruning continues.
func (p *Pruner) PruneLocal(ctx context.Context, dir string) (Result, error) {
	log := logging.Ctx(ctx).With().Str("location", "local").Logger()
	res := Result{Location: dir}

	all, err := p.localCandidates(dir)
	if err != nil {
		return res, err
	}
	res.Considered = len(all)

	for _, c := range p.eligible(all) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		err := os.Remove(c.Path)
		switch {
		case err == nil:
			res.Deleted++
			res.Removed = append(res.Removed, c.Name)
			log.Info().Str("artifact", c.Name).Int("age_days", c.AgeDays).Msg("Pruned expired artifact")
		case errors.Is(err, os.ErrNotExist):
			// already gone
		default:
			res.Failed++
			log.Warn().Err(err).Str("artifact", c.Name).Msg("Failed to prune artifact")
		}
	}

	metrics.RecordRetention("local", "deleted", res.Deleted)
	metrics.RecordRetention("local", "failed", res.Failed)
	return res, nil
}

// PreviewRemote returns the remote objects PruneRemote would delete and the
// number of keys skipped for not matching the layout.
func (p *Pruner) PreviewRemote(ctx context.Context, store transfer.Store, prefix string) ([]Candidate, int, error) {
	all, skipped, err := p.remoteCandidates(ctx, store, prefix)
	if err != nil {
		return nil, 0, err
	}
	return p.eligible(all), skipped, nil
}

func (p *Pruner) remoteCandidates(ctx context.Context, store transfer.Store, prefix string) ([]Candidate, int, error) {
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list remote artifacts: %w", err)
	}

	log := logging.Ctx(ctx)
	now := p.now()
	skipped := 0
	all := make([]Candidate, 0, len(objects))
	for _, obj := range objects {
		created, err := artifact.ParseRemoteKeyDate(prefix, obj.Key)
		if err != nil {
			skipped++
			log.Debug().Str("key", obj.Key).Msg("Skipping remote object outside the artifact layout")
			continue
		}
		all = append(all, Candidate{
			Name:    obj.Key,
			Created: created,
			AgeDays: AgeDays(now, created),
			Size:    obj.Size,
		})
	}
	return all, skipped, nil
}

// PruneRemote deletes expired objects under prefix, throttled by the delete
// rate. A listing failure is returned; per-object failures are counted.
func (p *Pruner) PruneRemote(ctx context.Context, store transfer.Store, prefix string) (Result, error) {
	log := logging.Ctx(ctx).With().Str("location", store.Location()).Logger()
	res := Result{Location: store.Location()}

	all, skipped, err := p.remoteCandidates(ctx, store, prefix)
	if err != nil {
		return res, err
	}
	res.Considered = len(all)
	res.Skipped = skipped
	if skipped > 0 {
		log.Warn().Int("skipped", skipped).Msg("Remote keys outside the artifact layout were left untouched")
	}

	for _, c := range p.eligible(all) {
		if err := p.limiter.Wait(ctx); err != nil {
			return res, err
		}
		if err := store.Delete(ctx, c.Name); err != nil {
			res.Failed++
			log.Warn().Err(err).Str("key", c.Name).Msg("Failed to prune remote artifact")
			continue
		}
		res.Deleted++
		res.Removed = append(res.Removed, c.Name)
		log.Info().Str("key", c.Name).Int("age_days", c.AgeDays).Msg("Pruned expired remote artifact")
	}

	metrics.RecordRetention("remote", "deleted", res.Deleted)
	metrics.RecordRetention("remote", "failed", res.Failed)
	metrics.RecordRetention("remote", "skipped", res.Skipped)
	return res, nil
}

// eligible returns the deletable candidates, protecting the newest MinKeep.
func (p *Pruner) eligible(all []Candidate) []Candidate {
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Created.Equal(all[j].Created) {
			return all[i].Name > all[j].Name
		}
		return all[i].Created.After(all[j].Created)
	})

	var out []Candidate
	for i, c := range all {
		if i < p.policy.MinKeep {
			continue
		}
		if p.policy.Eligible(c.AgeDays) {
			out = append(out, c)
		}
	}
	return out
}
