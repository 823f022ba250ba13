// Snapvault - Encrypted Backup Orchestration for Managed Database Exports
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

/*
Package metrics provides Prometheus instrumentation for backup runs.

snapvault is a short-lived process started by cron, so nothing is scraped
directly. Collectors live in a dedicated Registry and are flushed once per
invocation to a node_exporter textfile collector directory:

	METRICS_TEXTFILE=/var/lib/node_exporter/textfile/snapvault.prom

Counters therefore describe a single invocation; gauges such as
snapvault_last_success_timestamp_seconds carry state across runs.

# Available Metrics

Run Metrics:
  - snapvault_runs_total: Lifecycle runs (counter)
    Labels: outcome (success, failed, already_running)
  - snapvault_run_duration_seconds: Run duration (histogram)
  - snapvault_stage_duration_seconds: Duration per lifecycle stage (histogram)
    Labels: stage
  - snapvault_artifact_size_bytes: Size of the newest encrypted artifact (gauge)
  - snapvault_last_success_timestamp_seconds: Completion time of the last successful run (gauge)

Retention Metrics:
  - snapvault_retention_deletions_total: Pruned artifacts (counter)
    Labels: location (local, remote), outcome (deleted, failed, skipped)

Remote Metrics:
  - snapvault_remote_operations_total: Remote store calls (counter)
    Labels: operation (upload, exists, list, delete), outcome (success, failure)
  - snapvault_remote_operation_duration_seconds: Remote call latency (histogram)
    Labels: operation

Circuit Breaker Metrics:
  - circuit_breaker_state: 0=closed, 1=half-open, 2=open (gauge)
  - circuit_breaker_requests_total, circuit_breaker_consecutive_failures,
    circuit_breaker_state_transitions_total

Restore Metrics:
  - snapvault_restore_operations_total: Verify and restore operations (counter)
    Labels: mode (verify, test, extract), outcome (success, decrypt_failed, corrupt, failed)

# Example Alert

	groups:
	  - name: snapvault
	    rules:
	      - alert: BackupStale
	        expr: time() - snapvault_last_success_timestamp_seconds > 26 * 3600
	        for: 15m
*/
package metrics
