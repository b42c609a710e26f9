// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package restore replays backup archives into the live database. Full and
// partial restores run inside a single transaction so a failed replay
// leaves the database exactly as it was.
package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/backup"
	"github.com/boardkeep/boardkeep/internal/database"
	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/metrics"
	"github.com/boardkeep/boardkeep/internal/notify"
)

// NoSuitableBackupError is returned by RestoreToPointInTime when no
// completed backup exists at all.
type NoSuitableBackupError struct {
	Target time.Time
}

func (e *NoSuitableBackupError) Error() string {
	return fmt.Sprintf("no completed backup available for point-in-time restore to %s", e.Target.Format(time.RFC3339))
}

// BackupTooNewError is returned when completed backups exist but every one
// of them postdates the requested point in time.
type BackupTooNewError struct {
	Target     time.Time
	EarliestAt time.Time
}

func (e *BackupTooNewError) Error() string {
	return fmt.Sprintf("earliest backup is from %s, after the requested point in time %s",
		e.EarliestAt.Format(time.RFC3339), e.Target.Format(time.RFC3339))
}

// Stable machine codes carried by RestoreFailedError.
const (
	CodeLoadFailed   = "load_failed"
	CodeReplayFailed = "replay_failed"
)

// RestoreFailedError reports a restore failure with a stable machine code.
// The cause is available through Unwrap, never interpolated into the
// message.
type RestoreFailedError struct {
	BackupID string
	Code     string
	Err      error
}

func (e *RestoreFailedError) Error() string {
	return fmt.Sprintf("restore from backup %s failed (%s)", e.BackupID, e.Code)
}

func (e *RestoreFailedError) Unwrap() error { return e.Err }

// Options controls a full restore.
type Options struct {
	// PreserveExisting keeps current rows instead of clearing tables before
	// replay. Replayed rows that collide with existing primary keys fail
	// the restore.
	PreserveExisting bool

	// VerifyAfter runs integrity checks after the transaction commits.
	VerifyAfter bool
}

// PartialOptions controls a partial restore.
type PartialOptions struct {
	// IncludeSchema also replays the archived CREATE statements. Only
	// useful when the target tables were dropped; replaying DDL over an
	// existing table fails.
	IncludeSchema bool

	// PreserveExisting keeps current rows in the restored tables instead
	// of clearing them before replay.
	PreserveExisting bool

	// ValidateAfter runs integrity checks after the transaction commits.
	// Findings are logged, not returned as errors; a partial restore can
	// legitimately leave cross-table references for a later pass.
	ValidateAfter bool
}

// Engine performs restores from backups managed by a backup.Manager.
type Engine struct {
	db       *database.Store
	backups  *backup.Manager
	notifier *notify.Multi
	log      zerolog.Logger

	progress *progressTracker
}

// NewEngine builds a restore engine. The notifier may be nil.
func NewEngine(db *database.Store, backups *backup.Manager, notifier *notify.Multi) *Engine {
	return &Engine{
		db:       db,
		backups:  backups,
		notifier: notifier,
		log:      logging.With().Str("component", "restore").Logger(),
		progress: newProgressTracker(),
	}
}

// RestoreFull replays a complete backup. Unless PreserveExisting is set,
// user tables are cleared first, children before parents. The clear and
// the replay share one transaction.
func (e *Engine) RestoreFull(ctx context.Context, backupID string, opts Options) error {
	started := time.Now()
	e.emit(ctx, notify.NewEvent(notify.EventRestoreStarted, notify.SeverityInfo, backupID, "full restore started"))

	err := e.restoreFull(ctx, backupID, opts)

	e.finish(ctx, "full", backupID, started, err)
	return err
}

func (e *Engine) restoreFull(ctx context.Context, backupID string, opts Options) error {
	_, stmts, err := e.backups.LoadArchive(ctx, backupID)
	if err != nil {
		return &RestoreFailedError{BackupID: backupID, Code: CodeLoadFailed, Err: err}
	}

	data := dataOnly(stmts)
	err = e.db.Transaction(ctx, func(tx database.Executor) error {
		if !opts.PreserveExisting {
			if err := clearAll(ctx, tx); err != nil {
				return err
			}
		}
		return archive.Replay(ctx, tx, data)
	})
	if err != nil {
		return &RestoreFailedError{BackupID: backupID, Code: CodeReplayFailed, Err: err}
	}

	if opts.VerifyAfter {
		return e.verifyAfter(ctx, backupID)
	}
	return nil
}

// RestorePartial replays only the named tables. Tables absent from the
// archive are skipped with a warning rather than failing the whole
// operation. Restored tables are cleared first, inside the same
// transaction as the replay.
func (e *Engine) RestorePartial(ctx context.Context, backupID string, tables []string, opts PartialOptions) error {
	started := time.Now()
	e.emit(ctx, notify.NewEvent(notify.EventRestoreStarted, notify.SeverityInfo, backupID,
		fmt.Sprintf("partial restore of %d tables started", len(tables))))

	err := e.restorePartial(ctx, backupID, tables, opts)

	e.finish(ctx, "partial", backupID, started, err)
	return err
}

func (e *Engine) restorePartial(ctx context.Context, backupID string, tables []string, opts PartialOptions) error {
	if len(tables) == 0 {
		return fmt.Errorf("partial restore requires at least one table")
	}

	_, stmts, err := e.backups.LoadArchive(ctx, backupID)
	if err != nil {
		return &RestoreFailedError{BackupID: backupID, Code: CodeLoadFailed, Err: err}
	}

	present := make(map[string]bool)
	for _, name := range archive.Tables(stmts) {
		present[name] = true
	}

	var selected []string
	for _, name := range tables {
		if !present[name] {
			e.log.Warn().Str("table", name).Str("backup_id", backupID).
				Msg("Table not in archive, skipping")
			continue
		}
		selected = append(selected, name)
	}
	if len(selected) == 0 {
		return fmt.Errorf("none of the requested tables exist in backup %s", backupID)
	}

	existing := make(map[string]bool, len(selected))
	for _, name := range selected {
		ok, err := e.db.TableExists(ctx, name)
		if err != nil {
			return err
		}
		existing[name] = ok
	}

	// Schema statements only replay for tables that are actually missing;
	// DDL over a live table fails.
	var replayable []archive.Statement
	for _, st := range archive.FilterTables(stmts, selected, opts.IncludeSchema) {
		if st.Kind == archive.KindSchema && existing[st.Table] {
			continue
		}
		replayable = append(replayable, st)
	}

	var toClear []string
	if !opts.PreserveExisting {
		for _, name := range selected {
			if existing[name] {
				toClear = append(toClear, name)
			}
		}
	}

	err = e.db.Transaction(ctx, func(tx database.Executor) error {
		if err := clearTables(ctx, tx, toClear); err != nil {
			return err
		}
		return archive.Replay(ctx, tx, replayable)
	})
	if err != nil {
		return &RestoreFailedError{BackupID: backupID, Code: CodeReplayFailed, Err: err}
	}

	if opts.ValidateAfter {
		e.logIntegrityFindings(ctx, backupID)
	}
	return nil
}

// RestoreToPointInTime restores the newest completed backup created at or
// before target. The restore always verifies afterward because the caller
// asked for a state, not a specific file.
func (e *Engine) RestoreToPointInTime(ctx context.Context, target time.Time) error {
	started := time.Now()

	candidate, err := e.findBackupAt(ctx, target)
	if err != nil {
		metrics.RestoresCompleted.WithLabelValues("point_in_time", "failure").Inc()
		return err
	}

	e.log.Info().
		Str("backup_id", candidate.ID).
		Time("target", target).
		Time("backup_created_at", candidate.CreatedAt).
		Msg("Point-in-time restore selected backup")

	err = e.RestoreFull(ctx, candidate.ID, Options{VerifyAfter: true})
	metrics.RestoreDuration.WithLabelValues("point_in_time").Observe(time.Since(started).Seconds())
	return err
}

// findBackupAt picks the newest completed backup at or before target.
func (e *Engine) findBackupAt(ctx context.Context, target time.Time) (*backup.Backup, error) {
	completed, err := e.backups.List(ctx, backup.ListFilter{Status: backup.StatusCompleted})
	if err != nil {
		return nil, err
	}
	if len(completed) == 0 {
		return nil, &NoSuitableBackupError{Target: target}
	}

	// List returns newest first; the first one at or before target wins.
	earliest := completed[0].CreatedAt
	for _, b := range completed {
		if !b.CreatedAt.After(target) {
			return b, nil
		}
		if b.CreatedAt.Before(earliest) {
			earliest = b.CreatedAt
		}
	}
	return nil, &BackupTooNewError{Target: target, EarliestAt: earliest}
}

// verifyAfter runs integrity checks and fails if any check failed.
func (e *Engine) verifyAfter(ctx context.Context, backupID string) error {
	checks, err := e.RunIntegrityChecks(ctx)
	if err != nil {
		return fmt.Errorf("post-restore verification: %w", err)
	}
	for _, c := range checks {
		if !c.Passed {
			return fmt.Errorf("post-restore verification: check %q failed: %s", c.Name, c.Message)
		}
	}
	e.log.Info().Str("backup_id", backupID).Int("checks", len(checks)).Msg("Post-restore verification passed")
	return nil
}

// logIntegrityFindings runs the integrity checks and logs failures without
// failing the restore that requested them.
func (e *Engine) logIntegrityFindings(ctx context.Context, backupID string) {
	checks, err := e.RunIntegrityChecks(ctx)
	if err != nil {
		e.log.Warn().Err(err).Str("backup_id", backupID).Msg("Post-restore integrity sweep failed to run")
		return
	}
	for _, c := range checks {
		if !c.Passed {
			e.log.Warn().Str("backup_id", backupID).Str("check", c.Name).
				Str("message", c.Message).Msg("Post-restore integrity finding")
		}
	}
}

// finish records metrics, logs, and events for a completed restore attempt.
func (e *Engine) finish(ctx context.Context, mode, backupID string, started time.Time, err error) {
	metrics.RestoreDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.RestoresCompleted.WithLabelValues(mode, "failure").Inc()
		e.emit(ctx, notify.NewEvent(notify.EventRestoreFailed, notify.SeverityError, backupID,
			fmt.Sprintf("%s restore failed: %v", mode, err)))
		return
	}

	metrics.RestoresCompleted.WithLabelValues(mode, "success").Inc()
	e.log.Info().Str("backup_id", backupID).Str("mode", mode).
		Dur("elapsed", time.Since(started)).Msg("Restore completed")
	e.emit(ctx, notify.NewEvent(notify.EventRestoreCompleted, notify.SeverityInfo, backupID,
		fmt.Sprintf("%s restore completed", mode)))
}

func (e *Engine) emit(ctx context.Context, event notify.Event) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, event)
	}
}

// dataOnly strips schema statements; restores into a migrated database
// replay rows, never DDL.
func dataOnly(stmts []archive.Statement) []archive.Statement {
	var out []archive.Statement
	for _, st := range stmts {
		if st.Kind == archive.KindData {
			out = append(out, st)
		}
	}
	return out
}

// clearAll empties every user table, children before parents.
func clearAll(ctx context.Context, tx database.Executor) error {
	return clearTables(ctx, tx, database.UserTables())
}

// clearTables empties the given tables in reverse foreign-key order.
func clearTables(ctx context.Context, tx database.Executor, tables []string) error {
	ordered := orderForClear(tables)
	for _, table := range ordered {
		if err := database.ClearTable(ctx, tx, table); err != nil {
			return err
		}
	}
	return nil
}

// orderForClear returns the requested tables sorted so children are
// cleared before their parents.
func orderForClear(tables []string) []string {
	wanted := make(map[string]bool, len(tables))
	for _, t := range tables {
		wanted[t] = true
	}

	all := database.UserTables()
	out := make([]string, 0, len(tables))
	for i := len(all) - 1; i >= 0; i-- {
		if wanted[all[i]] {
			out = append(out, all[i])
		}
	}
	return out
}
