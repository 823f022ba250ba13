// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every snapvault collector. It is separate from the default
// registry so textfile output carries no Go runtime noise.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

// Stage duration buckets span quick local steps to hour-long exports.
var stageBuckets = []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 1800, 3600}

var (
	// Run Metrics
	RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_runs_total",
			Help: "Total number of lifecycle runs by outcome",
		},
		[]string{"outcome"}, // success, failed, already_running
	)

	RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapvault_run_duration_seconds",
			Help:    "Duration of lifecycle runs in seconds",
			Buckets: stageBuckets,
		},
	)

	StageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_stage_duration_seconds",
			Help:    "Duration of lifecycle stages in seconds",
			Buckets: stageBuckets,
		},
		[]string{"stage"},
	)

	ArtifactSizeBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapvault_artifact_size_bytes",
			Help: "Size of the most recent encrypted artifact in bytes",
		},
	)

	LastSuccessTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapvault_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		},
	)

	// Retention Metrics
	RetentionDeletions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_retention_deletions_total",
			Help: "Total number of artifacts handled by retention",
		},
		[]string{"location", "outcome"}, // location: local, remote; outcome: deleted, failed, skipped
	)

	// Remote Metrics
	RemoteOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_remote_operations_total",
			Help: "Total number of remote store operations",
		},
		[]string{"operation", "outcome"},
	)

	RemoteOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapvault_remote_operation_duration_seconds",
			Help:    "Duration of remote store operations in seconds",
			Buckets: stageBuckets,
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Restore Metrics
	RestoreOperations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapvault_restore_operations_total",
			Help: "Total number of verify and restore operations",
		},
		[]string{"mode", "outcome"},
	)
)

// RecordRun records a finished lifecycle run. Degraded runs still produced
// an artifact and move the last success timestamp.
func RecordRun(outcome string, duration time.Duration, finishedAt time.Time) {
	RunsTotal.WithLabelValues(outcome).Inc()
	RunDuration.Observe(duration.Seconds())
	if outcome == "success" || outcome == "degraded" {
		LastSuccessTimestamp.Set(float64(finishedAt.Unix()))
	}
}

// RecordStage records time spent in one lifecycle stage.
func RecordStage(stage string, duration time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRemoteOperation records one remote store call.
func RecordRemoteOperation(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	RemoteOperations.WithLabelValues(operation, outcome).Inc()
	RemoteOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRetention records n artifacts handled by retention.
func RecordRetention(location, outcome string, n int) {
	if n <= 0 {
		return
	}
	RetentionDeletions.WithLabelValues(location, outcome).Add(float64(n))
}

// RecordRestore records a verify or restore operation.
func RecordRestore(mode, outcome string) {
	RestoreOperations.WithLabelValues(mode, outcome).Inc()
}

// WriteTextfile writes the registry in text exposition format to path,
// atomically, for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
