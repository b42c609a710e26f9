// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package scheduler runs backups on cron schedules. Each schedule owns at
// most one armed timer and at most one in-flight execution; an overdue run
// is skipped, never queued behind itself. Failures are counted on the
// schedule but never disable it.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/boardkeep/boardkeep/internal/backup"
	"github.com/boardkeep/boardkeep/internal/database"
)

// ErrNotFound is returned when a schedule id has no row.
var ErrNotFound = errors.New("schedule not found")

// cronParser accepts standard five-field expressions: minute, hour, day of
// month, month, day of week.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule describes one recurring backup.
type Schedule struct {
	ID                  string
	Name                string
	Description         string
	CronExpression      string
	Kind                backup.Kind
	Enabled             bool
	LastRunAt           *time.Time
	NextRunAt           *time.Time
	RunCount            int64
	FailureCount        int64
	RetentionDays       *int
	CompressionEnabled  bool
	VerificationEnabled bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CreateInput carries the caller-settable fields of a new schedule.
type CreateInput struct {
	Name                string
	Description         string
	CronExpression      string
	Kind                backup.Kind
	Enabled             bool
	RetentionDays       *int
	CompressionEnabled  bool
	VerificationEnabled bool
}

// validate checks the input without touching storage.
func (in *CreateInput) validate() error {
	if in.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if in.Kind != backup.KindFull && in.Kind != backup.KindIncremental {
		return fmt.Errorf("unknown backup kind %q", in.Kind)
	}
	if _, err := cronParser.Parse(in.CronExpression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", in.CronExpression, err)
	}
	if in.RetentionDays != nil && *in.RetentionDays < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", *in.RetentionDays)
	}
	return nil
}

// NextAfter computes the next fire time after t.
func (s *Schedule) NextAfter(t time.Time) (time.Time, error) {
	spec, err := cronParser.Parse(s.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron for schedule %s: %w", s.ID, err)
	}
	return spec.Next(t), nil
}

// repository persists schedules in the backup_schedules table.
type repository struct {
	store *database.Store
}

const scheduleColumns = `id, name, description, cron_expression, backup_kind, enabled,
	last_run_at, next_run_at, run_count, failure_count, retention_days,
	compression_enabled, verification_enabled, created_at, updated_at`

func (r *repository) insert(ctx context.Context, in CreateInput) (*Schedule, error) {
	now := time.Now().UTC()
	s := &Schedule{
		ID:                  uuid.NewString(),
		Name:                in.Name,
		Description:         in.Description,
		CronExpression:      in.CronExpression,
		Kind:                in.Kind,
		Enabled:             in.Enabled,
		RetentionDays:       in.RetentionDays,
		CompressionEnabled:  in.CompressionEnabled,
		VerificationEnabled: in.VerificationEnabled,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, err := r.store.Execute(ctx, `
		INSERT INTO backup_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Name, s.Description, s.CronExpression, string(s.Kind),
		boolToInt(s.Enabled), nil, nil, 0, 0, nullableInt(s.RetentionDays),
		boolToInt(s.CompressionEnabled), boolToInt(s.VerificationEnabled),
		database.TimeToNanos(now), database.TimeToNanos(now))
	if err != nil {
		return nil, fmt.Errorf("insert schedule %q: %w", in.Name, err)
	}
	return s, nil
}

func (r *repository) update(ctx context.Context, s *Schedule) error {
	s.UpdatedAt = time.Now().UTC()
	changed, err := r.store.Execute(ctx, `
		UPDATE backup_schedules SET
			name = ?, description = ?, cron_expression = ?, backup_kind = ?,
			enabled = ?, last_run_at = ?, next_run_at = ?, run_count = ?,
			failure_count = ?, retention_days = ?, compression_enabled = ?,
			verification_enabled = ?, updated_at = ?
		WHERE id = ?`,
		s.Name, s.Description, s.CronExpression, string(s.Kind),
		boolToInt(s.Enabled), database.NullableTimeToNanos(s.LastRunAt),
		database.NullableTimeToNanos(s.NextRunAt), s.RunCount, s.FailureCount,
		nullableInt(s.RetentionDays), boolToInt(s.CompressionEnabled),
		boolToInt(s.VerificationEnabled), database.TimeToNanos(s.UpdatedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update schedule %s: %w", s.ID, err)
	}
	if changed == 0 {
		return fmt.Errorf("schedule %s: %w", s.ID, ErrNotFound)
	}
	return nil
}

func (r *repository) get(ctx context.Context, id string) (*Schedule, error) {
	row := r.store.QueryOne(ctx, `SELECT `+scheduleColumns+` FROM backup_schedules WHERE id = ?`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return s, nil
}

func (r *repository) list(ctx context.Context, enabledOnly bool) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM backup_schedules`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := r.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var schedules []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *repository) delete(ctx context.Context, id string) error {
	changed, err := r.store.Execute(ctx, `DELETE FROM backup_schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if changed == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var s Schedule
	var kind string
	var enabled, compression, verification int
	var lastRun, nextRun sql.NullInt64
	var retention sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.CronExpression, &kind,
		&enabled, &lastRun, &nextRun, &s.RunCount, &s.FailureCount,
		&retention, &compression, &verification, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Kind = backup.Kind(kind)
	s.Enabled = enabled != 0
	s.CompressionEnabled = compression != 0
	s.VerificationEnabled = verification != 0
	s.LastRunAt = database.NanosToNullableTime(lastRun)
	s.NextRunAt = database.NanosToNullableTime(nextRun)
	if retention.Valid {
		days := int(retention.Int64)
		s.RetentionDays = &days
	}
	s.CreatedAt = database.NanosToTime(createdAt)
	s.UpdatedAt = database.NanosToTime(updatedAt)
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
