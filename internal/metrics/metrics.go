// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package metrics provides Prometheus instrumentation for the backup engine:
// record store query latency, backup creation and restore outcomes, schedule
// executions, and retention sweep results.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Record store metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardkeep_db_query_duration_seconds",
			Help:    "Duration of record store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_db_query_errors_total",
			Help: "Total number of record store operation errors",
		},
		[]string{"operation"},
	)

	// Backup metrics
	BackupsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_backups_created_total",
			Help: "Total number of backups created, by kind",
		},
		[]string{"kind"},
	)

	BackupsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_backups_failed_total",
			Help: "Total number of failed backup attempts, by kind",
		},
		[]string{"kind"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardkeep_backup_duration_seconds",
			Help:    "Duration of backup creation in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	BackupSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardkeep_backup_last_size_bytes",
			Help: "Size in bytes of the most recently completed backup",
		},
	)

	BackupsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_backups_deleted_total",
			Help: "Total number of backups deleted, by reason",
		},
		[]string{"reason"}, // "manual", "retention"
	)

	// Restore metrics
	RestoresCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_restores_total",
			Help: "Total number of restore operations, by mode and outcome",
		},
		[]string{"mode", "outcome"}, // mode: "full", "partial", "point_in_time"
	)

	RestoreDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "boardkeep_restore_duration_seconds",
			Help:    "Duration of restore operations in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	// Scheduler metrics
	ScheduleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_schedule_runs_total",
			Help: "Total number of schedule executions, by outcome",
		},
		[]string{"outcome"}, // "success", "failure"
	)

	ActiveTimers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boardkeep_scheduler_active_timers",
			Help: "Number of armed schedule timers",
		},
	)

	// Notification metrics
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boardkeep_notifications_sent_total",
			Help: "Total number of notification deliveries, by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)
)

// ObserveQuery records the duration and outcome of a record store operation.
func ObserveQuery(operation string, d time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
