// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/boardkeep/boardkeep/internal/backup"
	"github.com/boardkeep/boardkeep/internal/database"
	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/metrics"
	"github.com/boardkeep/boardkeep/internal/notify"
)

// job is the in-memory execution state of one schedule. The scheduler's
// mutex guards both fields; the timer is stopped before being replaced so
// a schedule can never hold two armed timers.
type job struct {
	timer    *time.Timer
	inFlight bool
}

// Scheduler arms timers for enabled schedules and executes them. One
// Scheduler instance owns all timers; schedules created or updated through
// it are re-armed immediately.
type Scheduler struct {
	backups  *backup.Manager
	repo     *repository
	notifier *notify.Multi
	log      zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	running bool
}

// New builds a Scheduler. Nothing is armed until Start.
func New(db *database.Store, backups *backup.Manager, notifier *notify.Multi) *Scheduler {
	return &Scheduler{
		backups:  backups,
		repo:     &repository{store: db},
		notifier: notifier,
		log:      logging.With().Str("component", "scheduler").Logger(),
		jobs:     make(map[string]*job),
	}
}

// Start arms every enabled schedule. Calling Start on a running scheduler
// logs a warning and does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("Scheduler already running, ignoring Start")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	schedules, err := s.repo.list(ctx, true)
	if err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	for _, sched := range schedules {
		if err := s.arm(ctx, sched); err != nil {
			s.log.Error().Err(err).Str("schedule_id", sched.ID).Msg("Could not arm schedule")
		}
	}

	s.log.Info().Int("schedules", len(schedules)).Msg("Scheduler started")
	return nil
}

// Stop disarms every timer. In-flight executions finish on their own.
// Calling Stop on a stopped scheduler logs a warning and does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.log.Warn().Msg("Scheduler not running, ignoring Stop")
		return
	}
	s.running = false

	for id, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			metrics.ActiveTimers.Dec()
		}
		delete(s.jobs, id)
	}
	s.log.Info().Msg("Scheduler stopped")
}

// Create validates and persists a schedule, arming it immediately when it
// is enabled and the scheduler is running.
func (s *Scheduler) Create(ctx context.Context, in CreateInput) (*Schedule, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	sched, err := s.repo.insert(ctx, in)
	if err != nil {
		return nil, err
	}

	if sched.Enabled {
		if err := s.arm(ctx, sched); err != nil {
			return nil, err
		}
	}
	s.log.Info().Str("schedule_id", sched.ID).Str("cron", sched.CronExpression).
		Str("kind", string(sched.Kind)).Msg("Schedule created")
	return sched, nil
}

// Update persists changes to a schedule and re-arms or disarms its timer
// to match.
func (s *Scheduler) Update(ctx context.Context, sched *Schedule) error {
	in := CreateInput{
		Name:           sched.Name,
		CronExpression: sched.CronExpression,
		Kind:           sched.Kind,
		RetentionDays:  sched.RetentionDays,
	}
	if err := in.validate(); err != nil {
		return err
	}

	if !sched.Enabled {
		sched.NextRunAt = nil
	}
	if err := s.repo.update(ctx, sched); err != nil {
		return err
	}

	if sched.Enabled {
		return s.arm(ctx, sched)
	}
	s.disarm(sched.ID)
	return nil
}

// Delete disarms and removes a schedule. Backups it created remain.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.disarm(id)
	return s.repo.delete(ctx, id)
}

// Get returns one schedule.
func (s *Scheduler) Get(ctx context.Context, id string) (*Schedule, error) {
	return s.repo.get(ctx, id)
}

// List returns all schedules ordered by name.
func (s *Scheduler) List(ctx context.Context) ([]*Schedule, error) {
	return s.repo.list(ctx, false)
}

// ExecuteNow runs a schedule immediately, outside its cron cadence. The
// run still counts toward the schedule's statistics and still respects
// in-flight serialization.
func (s *Scheduler) ExecuteNow(ctx context.Context, id string) (*backup.Backup, error) {
	sched, err := s.repo.get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.acquire(id) {
		return nil, fmt.Errorf("schedule %s is already executing", id)
	}
	defer s.release(id)

	return s.runSchedule(ctx, sched)
}

// arm computes the next fire time, persists it, and replaces the timer.
func (s *Scheduler) arm(ctx context.Context, sched *Schedule) error {
	next, err := sched.NextAfter(time.Now())
	if err != nil {
		return err
	}

	sched.NextRunAt = &next
	if err := s.repo.update(ctx, sched); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	j, ok := s.jobs[sched.ID]
	if !ok {
		j = &job{}
		s.jobs[sched.ID] = j
	}
	if j.timer != nil {
		j.timer.Stop()
		metrics.ActiveTimers.Dec()
	}

	id := sched.ID
	j.timer = time.AfterFunc(time.Until(next), func() { s.fire(id) })
	metrics.ActiveTimers.Inc()
	return nil
}

// disarm stops and forgets a schedule's timer.
func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		if j.timer != nil {
			j.timer.Stop()
			metrics.ActiveTimers.Dec()
		}
		delete(s.jobs, id)
	}
}

// acquire marks a schedule in flight; false means a run is already active.
func (s *Scheduler) acquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		j = &job{}
		s.jobs[id] = j
	}
	if j.inFlight {
		return false
	}
	j.inFlight = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.inFlight = false
	}
}

// fire handles a timer expiry: execute unless the previous run is still
// going, then re-arm for the next occurrence.
func (s *Scheduler) fire(id string) {
	ctx := context.Background()

	sched, err := s.repo.get(ctx, id)
	if err != nil {
		s.log.Error().Err(err).Str("schedule_id", id).Msg("Timer fired for unknown schedule")
		return
	}

	if !s.acquire(id) {
		s.log.Warn().Str("schedule_id", id).
			Msg("Previous run still in flight, skipping this occurrence")
	} else {
		if _, err := s.runSchedule(ctx, sched); err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("Scheduled backup failed")
		}
		s.release(id)

		// Reload so statistics written by the run are not clobbered by arm.
		if sched, err = s.repo.get(ctx, id); err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("Could not reload schedule after run")
			return
		}
	}

	if sched.Enabled {
		if err := s.arm(ctx, sched); err != nil {
			s.log.Error().Err(err).Str("schedule_id", id).Msg("Could not re-arm schedule")
		}
	}
}

// runSchedule executes one backup for the schedule and updates its
// statistics. A failed run increments the failure count and leaves the
// schedule enabled; repeated failures are an operator signal, not a reason
// to silently stop protecting data.
func (s *Scheduler) runSchedule(ctx context.Context, sched *Schedule) (*backup.Backup, error) {
	started := time.Now()
	opts := backup.CreateOptions{
		Name:     fmt.Sprintf("%s-%s", sched.Name, started.UTC().Format("20060102-150405")),
		Compress: sched.CompressionEnabled,
		Verify:   sched.VerificationEnabled,
	}

	s.emit(ctx, notify.NewEvent(notify.EventBackupScheduled, notify.SeverityInfo, sched.ID,
		fmt.Sprintf("schedule %q fired", sched.Name)).
		WithMetadata("kind", string(sched.Kind)))

	var b *backup.Backup
	var err error
	switch sched.Kind {
	case backup.KindIncremental:
		b, err = s.runIncremental(ctx, sched, opts)
	default:
		b, err = s.backups.CreateFull(ctx, opts)
	}

	now := time.Now().UTC()
	sched.LastRunAt = &now
	if err != nil {
		sched.FailureCount++
		metrics.ScheduleRuns.WithLabelValues("failure").Inc()
	} else {
		sched.RunCount++
		metrics.ScheduleRuns.WithLabelValues("success").Inc()
	}
	if updErr := s.repo.update(ctx, sched); updErr != nil {
		s.log.Error().Err(updErr).Str("schedule_id", sched.ID).Msg("Could not record run statistics")
	}

	if err != nil {
		return nil, err
	}
	return b, nil
}

// runIncremental chains a new backup to the schedule's most recent
// completed full backup. Without one, the run falls back to a full backup
// so the schedule still produces a usable restore point.
func (s *Scheduler) runIncremental(ctx context.Context, sched *Schedule, opts backup.CreateOptions) (*backup.Backup, error) {
	parent, err := s.latestFullFor(ctx, sched)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		s.log.Warn().Str("schedule_id", sched.ID).
			Msg("No completed full backup for this schedule, creating full instead")
		return s.backups.CreateFull(ctx, opts)
	}
	return s.backups.CreateIncremental(ctx, parent.ID, opts)
}

// latestFullFor finds the newest completed full backup this schedule
// produced, identified by the schedule-name prefix in the backup name.
func (s *Scheduler) latestFullFor(ctx context.Context, sched *Schedule) (*backup.Backup, error) {
	completed, err := s.backups.List(ctx, backup.ListFilter{
		Kind:   backup.KindFull,
		Status: backup.StatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	for _, b := range completed {
		if strings.HasPrefix(b.Name, sched.Name+"-") {
			return b, nil
		}
	}
	return nil, nil
}

// CleanupOldBackups applies each enabled schedule's retention window to
// the backups it created. Schedules without a retention setting keep
// everything. Returns the total number of backups deleted.
func (s *Scheduler) CleanupOldBackups(ctx context.Context) (int, error) {
	schedules, err := s.repo.list(ctx, true)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, sched := range schedules {
		if sched.RetentionDays == nil {
			continue
		}
		n, err := s.cleanupSchedule(ctx, sched)
		if err != nil {
			s.log.Warn().Err(err).Str("schedule_id", sched.ID).Msg("Retention sweep failed for schedule")
			continue
		}
		deleted += n
	}
	return deleted, nil
}

func (s *Scheduler) cleanupSchedule(ctx context.Context, sched *Schedule) (int, error) {
	// No status filter: failed and corrupted runs of this schedule expire
	// along with the completed ones.
	all, err := s.backups.List(ctx, backup.ListFilter{})
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -*sched.RetentionDays)
	deleted := 0
	for _, b := range all {
		if !strings.HasPrefix(b.Name, sched.Name+"-") || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.backups.DeleteExpired(ctx, b.ID); err != nil {
			s.log.Warn().Err(err).Str("backup_id", b.ID).Msg("Could not delete expired backup")
			s.emit(ctx, notify.NewEvent(notify.EventStorageWarning, notify.SeverityWarning, b.ID,
				fmt.Sprintf("retention sweep could not delete expired backup: %v", err)).
				WithMetadata("schedule_id", sched.ID))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Str("schedule_id", sched.ID).Int("deleted", deleted).
			Int("retention_days", *sched.RetentionDays).Msg("Schedule retention applied")
	}
	return deleted, nil
}

func (s *Scheduler) emit(ctx context.Context, event notify.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, event)
	}
}
