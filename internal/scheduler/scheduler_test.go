// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boardkeep/boardkeep/internal/backup"
	"github.com/boardkeep/boardkeep/internal/database"
)

func newTestScheduler(t *testing.T) (*Scheduler, *backup.Manager, *database.Store) {
	t.Helper()

	dir := t.TempDir()
	store, err := database.Open(filepath.Join(dir, "boardkeep.db"), time.Second)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck // test cleanup

	mgr, err := backup.NewManager(backup.Config{Dir: filepath.Join(dir, "backups")}, store, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return New(store, mgr, nil), mgr, store
}

func hourlyInput(name string, kind backup.Kind) CreateInput {
	return CreateInput{
		Name:           name,
		CronExpression: "0 * * * *",
		Kind:           kind,
		Enabled:        true,
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(in *CreateInput)
		wantErr bool
	}{
		{"valid", func(_ *CreateInput) {}, false},
		{"empty name", func(in *CreateInput) { in.Name = "" }, true},
		{"bad cron", func(in *CreateInput) { in.CronExpression = "every hour" }, true},
		{"six fields", func(in *CreateInput) { in.CronExpression = "0 0 * * * *" }, true},
		{"bad kind", func(in *CreateInput) { in.Kind = "differential" }, true},
		{"zero retention", func(in *CreateInput) { days := 0; in.RetentionDays = &days }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := hourlyInput("sched-"+tt.name, backup.KindFull)
			tt.mutate(&in)

			_, err := s.Create(ctx, in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Create() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduleCRUD(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	created, err := s.Create(ctx, hourlyInput("nightly", backup.KindFull))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "nightly" || got.CronExpression != "0 * * * *" || !got.Enabled {
		t.Errorf("Get() = %+v", got)
	}

	got.Description = "nightly full backup"
	got.Enabled = false
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	updated, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() after update error = %v", err)
	}
	if updated.Enabled {
		t.Error("Enabled = true after disable")
	}
	if updated.NextRunAt != nil {
		t.Error("NextRunAt set on disabled schedule")
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() = %d schedules, want 1", len(all))
	}

	if err := s.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, created.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestExecuteNowFull(t *testing.T) {
	s, _, store := newTestScheduler(t)
	ctx := context.Background()
	now := database.TimeToNanos(time.Now())
	if _, err := store.Execute(ctx,
		`INSERT INTO boards (id, name, position, created_at, updated_at) VALUES ('b1', 'Sprint 12', 0, ?, ?)`,
		now, now); err != nil {
		t.Fatalf("seed board: %v", err)
	}

	sched, err := s.Create(ctx, hourlyInput("nightly", backup.KindFull))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	b, err := s.ExecuteNow(ctx, sched.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	if b.Kind != backup.KindFull || b.Status != backup.StatusCompleted {
		t.Errorf("backup = kind:%s status:%s", b.Kind, b.Status)
	}
	if !strings.HasPrefix(b.Name, "nightly-") {
		t.Errorf("backup name %q missing schedule prefix", b.Name)
	}

	after, err := s.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", after.RunCount)
	}
	if after.LastRunAt == nil {
		t.Error("LastRunAt is nil after run")
	}
	if after.FailureCount != 0 {
		t.Errorf("FailureCount = %d, want 0", after.FailureCount)
	}
}

func TestExecuteNowIncrementalFallsBackToFull(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	sched, err := s.Create(ctx, hourlyInput("hourly-inc", backup.KindIncremental))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// No parent full backup exists yet: the first run produces a full.
	first, err := s.ExecuteNow(ctx, sched.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() first error = %v", err)
	}
	if first.Kind != backup.KindFull {
		t.Errorf("first run kind = %s, want full fallback", first.Kind)
	}

	// The second run chains to the fallback full.
	second, err := s.ExecuteNow(ctx, sched.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() second error = %v", err)
	}
	if second.Kind != backup.KindIncremental {
		t.Errorf("second run kind = %s, want incremental", second.Kind)
	}
	if second.ParentBackupID == nil || *second.ParentBackupID != first.ID {
		t.Errorf("ParentBackupID = %v, want %s", second.ParentBackupID, first.ID)
	}
}

func TestFailedRunNeverDisablesSchedule(t *testing.T) {
	s, _, store := newTestScheduler(t)
	ctx := context.Background()

	sched, err := s.Create(ctx, hourlyInput("doomed", backup.KindFull))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	stored, err := s.repo.get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}

	// Dropping an exported table makes the export fail while leaving the
	// schedule tables intact for the statistics update.
	if _, err := store.Execute(ctx, `DROP TABLE notes`); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := s.runSchedule(ctx, stored); err == nil {
		t.Fatal("runSchedule() with broken export: error = nil, want failure")
	}

	after, err := s.Get(ctx, sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !after.Enabled {
		t.Error("schedule was disabled by a failed run")
	}
	if after.FailureCount != 1 {
		t.Errorf("FailureCount = %d, want 1", after.FailureCount)
	}
	if after.RunCount != 0 {
		t.Errorf("RunCount = %d, want 0", after.RunCount)
	}
}

func TestExecuteNowSerializesPerSchedule(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	sched, err := s.Create(ctx, hourlyInput("serial", backup.KindFull))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !s.acquire(sched.ID) {
		t.Fatal("acquire() = false on idle schedule")
	}
	defer s.release(sched.ID)

	if _, err := s.ExecuteNow(ctx, sched.ID); err == nil {
		t.Error("ExecuteNow() while in flight: error = nil, want error")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, hourlyInput("nightly", backup.KindFull)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	// Second Start must be a no-op, not a double arm.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() twice error = %v", err)
	}

	s.mu.Lock()
	armed := len(s.jobs)
	s.mu.Unlock()
	if armed != 1 {
		t.Errorf("armed jobs = %d, want 1", armed)
	}

	s.Stop()
	s.Stop() // idempotent

	s.mu.Lock()
	armed = len(s.jobs)
	s.mu.Unlock()
	if armed != 0 {
		t.Errorf("armed jobs after Stop = %d, want 0", armed)
	}
}

func TestUpdateTwiceLeavesOneTimer(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	sched, err := s.Create(ctx, hourlyInput("nightly", backup.KindFull))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Two quick cron updates must end with exactly one armed timer.
	sched.CronExpression = "30 * * * *"
	if err := s.Update(ctx, sched); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	sched.CronExpression = "45 * * * *"
	if err := s.Update(ctx, sched); err != nil {
		t.Fatalf("Update() twice error = %v", err)
	}

	s.mu.Lock()
	armed := 0
	for _, j := range s.jobs {
		if j.timer != nil {
			armed++
		}
	}
	jobs := len(s.jobs)
	s.mu.Unlock()

	if jobs != 1 {
		t.Errorf("job entries = %d, want 1", jobs)
	}
	if armed != 1 {
		t.Errorf("armed timers = %d, want 1", armed)
	}
}

func TestCleanupOldBackups(t *testing.T) {
	s, mgr, store := newTestScheduler(t)
	ctx := context.Background()

	days := 7
	in := hourlyInput("weekly", backup.KindFull)
	in.RetentionDays = &days
	sched, err := s.Create(ctx, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// One backup from the schedule, backdated past retention; one recent;
	// one unrelated manual backup, also old.
	expired, err := s.ExecuteNow(ctx, sched.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}
	old := database.TimeToNanos(time.Now().AddDate(0, 0, -10))
	if _, err := store.Execute(ctx, `UPDATE backups SET created_at = ? WHERE id = ?`, old, expired.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	recent, err := s.ExecuteNow(ctx, sched.ID)
	if err != nil {
		t.Fatalf("ExecuteNow() error = %v", err)
	}

	manual, err := mgr.CreateFull(ctx, backup.CreateOptions{Name: "manual-keep"})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	if _, err := store.Execute(ctx, `UPDATE backups SET created_at = ? WHERE id = ?`, old, manual.ID); err != nil {
		t.Fatalf("backdate manual: %v", err)
	}

	deleted, err := s.CleanupOldBackups(ctx)
	if err != nil {
		t.Fatalf("CleanupOldBackups() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := mgr.Get(ctx, expired.ID); !errors.Is(err, backup.ErrNotFound) {
		t.Errorf("expired schedule backup still present: %v", err)
	}
	if _, err := mgr.Get(ctx, recent.ID); err != nil {
		t.Errorf("recent schedule backup was deleted: %v", err)
	}
	if _, err := mgr.Get(ctx, manual.ID); err != nil {
		t.Errorf("unrelated manual backup was deleted: %v", err)
	}
}
