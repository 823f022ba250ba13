// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/snapvault/internal/logging"
	"github.com/tomtom215/snapvault/internal/metrics"
)

// BreakerStore wraps a Store with a circuit breaker, a per-call timeout and
// remote operation metrics. Once the remote has failed repeatedly within a
// run, further calls are rejected immediately instead of each waiting out
// the timeout.
//
// Existence checks that answer false are successes for the breaker; only
// errors count as failures.
type BreakerStore struct {
	store   Store
	cb      *gobreaker.CircuitBreaker[any]
	name    string
	timeout time.Duration
}

// BreakerSettings configures NewBreakerStore.
type BreakerSettings struct {
	// Name labels metrics and logs.
	Name string
	// Timeout bounds each call; zero disables the bound.
	Timeout time.Duration
	// MaxConsecutiveFailures opens the circuit; defaults to 3.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open; defaults to 1 minute.
	OpenTimeout time.Duration
}

// NewBreakerStore wraps store.
func NewBreakerStore(store Store, settings BreakerSettings) *BreakerStore {
	name := settings.Name
	if name == "" {
		name = "remote-store"
	}
	maxFailures := settings.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	openTimeout := settings.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,

		// A backup run issues few remote calls, so trip on consecutive
		// failures rather than a failure ratio.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			shouldTrip := counts.ConsecutiveFailures >= maxFailures
			if shouldTrip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, _ := describeState(from)
			toStr, gauge := describeState(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(gauge)
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})

	return &BreakerStore{store: store, cb: cb, name: name, timeout: settings.Timeout}
}

// State returns the breaker state name.
func (b *BreakerStore) State() string {
	name, _ := describeState(b.cb.State())
	return name
}

// Location implements Store.
func (b *BreakerStore) Location() string {
	return b.store.Location()
}

// Upload implements Store.
func (b *BreakerStore) Upload(ctx context.Context, localPath, key string) error {
	_, err := b.execute(ctx, "upload", func(ctx context.Context) (any, error) {
		return nil, b.store.Upload(ctx, localPath, key)
	})
	return wrapRejected(err, ErrUpload)
}

// Exists implements Store.
func (b *BreakerStore) Exists(ctx context.Context, key string) (bool, error) {
	result, err := b.execute(ctx, "exists", func(ctx context.Context) (any, error) {
		return b.store.Exists(ctx, key)
	})
	if err != nil {
		return false, wrapRejected(err, ErrExists)
	}
	ok, _ := result.(bool)
	return ok, nil
}

// List implements Store.
func (b *BreakerStore) List(ctx context.Context, prefix string) ([]Object, error) {
	result, err := b.execute(ctx, "list", func(ctx context.Context) (any, error) {
		return b.store.List(ctx, prefix)
	})
	if err != nil {
		return nil, wrapRejected(err, ErrList)
	}
	objects, _ := result.([]Object)
	return objects, nil
}

// Delete implements Store.
func (b *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.execute(ctx, "delete", func(ctx context.Context) (any, error) {
		return nil, b.store.Delete(ctx, key)
	})
	return wrapRejected(err, ErrDelete)
}

// Download implements Store.
func (b *BreakerStore) Download(ctx context.Context, key, localPath string) error {
	_, err := b.execute(ctx, "download", func(ctx context.Context) (any, error) {
		return nil, b.store.Download(ctx, key, localPath)
	})
	return wrapRejected(err, ErrDownload)
}

// execute runs fn under the breaker and the per-call timeout.
func (b *BreakerStore) execute(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	result, err := b.cb.Execute(func() (any, error) {
		callCtx := ctx
		if b.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		res, err := fn(callCtx)
		if err == nil {
			return res, nil
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s timed out after %s: %w", op, b.timeout, err)
		}
		return nil, err
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
			logging.Ctx(ctx).Warn().Err(err).Str("operation", op).Msg("[CIRCUIT BREAKER] Request rejected")
			return nil, err
		}
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(float64(b.cb.Counts().ConsecutiveFailures))
		metrics.RecordRemoteOperation(op, time.Since(start), err)
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(b.name).Set(0)
	metrics.RecordRemoteOperation(op, time.Since(start), nil)
	return result, nil
}

// wrapRejected gives breaker rejections the operation's error class.
func wrapRejected(err, class error) error {
	if err == nil || errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}

// breakerStates gives each breaker state its log name and gauge value.
var breakerStates = map[gobreaker.State]struct {
	name  string
	gauge float64
}{
	gobreaker.StateClosed:   {"closed", 0},
	gobreaker.StateHalfOpen: {"half-open", 1},
	gobreaker.StateOpen:     {"open", 2},
}

func describeState(state gobreaker.State) (string, float64) {
	if d, ok := breakerStates[state]; ok {
		return d.name, d.gauge
	}
	return "unknown", -1
}
