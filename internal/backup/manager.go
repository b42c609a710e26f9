// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/database"
	"github.com/boardkeep/boardkeep/internal/logging"
	"github.com/boardkeep/boardkeep/internal/metrics"
	"github.com/boardkeep/boardkeep/internal/notify"
)

// Config carries the manager's operational settings.
type Config struct {
	// Dir is the directory backup files are written to.
	Dir string

	// Compression enables gzip for new backups; Level is the gzip level.
	Compression      bool
	CompressionLevel int

	// Encryption seals every new backup; Passphrase is the key material,
	// required to read encrypted backups back.
	Encryption bool
	Passphrase string

	// VerifyAfterCreate re-reads and decodes every new backup immediately.
	VerifyAfterCreate bool
}

// Manager owns backup creation, verification, listing, deletion, and
// retention. It is safe for concurrent use; each operation is independent.
type Manager struct {
	cfg      Config
	db       *database.Store
	repo     *repository
	notifier *notify.Multi
	log      zerolog.Logger
}

// NewManager builds a Manager. The notifier may be nil for callers that do
// not want lifecycle events.
func NewManager(cfg Config, db *database.Store, notifier *notify.Multi) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		db:       db,
		repo:     &repository{store: db},
		notifier: notifier,
		log:      logging.With().Str("component", "backup").Logger(),
	}, nil
}

// CreateFull exports the entire database into a new full backup.
func (m *Manager) CreateFull(ctx context.Context, opts CreateOptions) (*Backup, error) {
	return m.create(ctx, KindFull, nil, opts)
}

// CreateIncremental creates a backup chained to an existing completed
// parent. The archive itself is a complete export; the chain exists for
// lineage and retention reasoning, so restores never walk it.
func (m *Manager) CreateIncremental(ctx context.Context, parentID string, opts CreateOptions) (*Backup, error) {
	parent, err := m.repo.get(ctx, parentID)
	if errors.Is(err, ErrNotFound) {
		return nil, &ParentNotFoundError{ParentID: parentID, Reason: "no such backup"}
	}
	if err != nil {
		return nil, err
	}
	if parent.Status != StatusCompleted {
		return nil, &ParentNotFoundError{
			ParentID: parentID,
			Reason:   fmt.Sprintf("status is %s, need completed", parent.Status),
		}
	}

	return m.create(ctx, KindIncremental, &parent.ID, opts)
}

// create runs the shared creation path. The metadata row is written first
// and driven through pending, in_progress, and a terminal state, so a
// failure at any point leaves an inspectable record rather than a gap.
func (m *Manager) create(ctx context.Context, kind Kind, parentID *string, opts CreateOptions) (*Backup, error) {
	started := time.Now()

	encrypt := opts.Encrypt || m.cfg.Encryption
	if encrypt && m.cfg.Passphrase == "" {
		return nil, fmt.Errorf("encryption requested but no passphrase configured")
	}

	b := &Backup{
		ID:             uuid.NewString(),
		Name:           opts.Name,
		Description:    opts.Description,
		Kind:           kind,
		Status:         StatusPending,
		Compressed:     opts.Compress || m.cfg.Compression,
		Encrypted:      encrypt,
		CreatedAt:      started.UTC(),
		ParentBackupID: parentID,
	}
	if b.Name == "" {
		b.Name = fmt.Sprintf("%s-%s", kind, started.UTC().Format("20060102-150405"))
	}
	if opts.RetentionPolicy != "" {
		b.RetentionPolicy = &opts.RetentionPolicy
	}
	b.FilePath = filepath.Join(m.cfg.Dir, fileName(b.ID, b.Compressed, b.Encrypted))

	if err := m.repo.insert(ctx, b); err != nil {
		return nil, err
	}

	m.emit(ctx, notify.NewEvent(notify.EventBackupStarted, notify.SeverityInfo, b.ID,
		fmt.Sprintf("%s backup %q started", kind, b.Name)))

	b.Status = StatusInProgress
	if err := m.repo.update(ctx, b); err != nil {
		return nil, err
	}

	if err := m.export(ctx, b, opts); err != nil {
		b.Status = StatusFailed
		b.Error = errorDetail(err)
		if updErr := m.repo.update(ctx, b); updErr != nil {
			m.log.Error().Err(updErr).Str("backup_id", b.ID).Msg("Failed to record backup failure")
		}

		metrics.BackupsFailed.WithLabelValues(string(kind)).Inc()
		m.emit(ctx, notify.NewEvent(notify.EventBackupFailed, notify.SeverityError, b.ID,
			fmt.Sprintf("backup %q failed: %v", b.Name, err)).
			WithMetadata("kind", string(kind)).
			WithMetadata("cause", b.Error))
		return nil, err
	}

	now := time.Now().UTC()
	b.Status = StatusCompleted
	b.CompletedAt = &now
	if err := m.repo.update(ctx, b); err != nil {
		return nil, err
	}

	metrics.BackupsCreated.WithLabelValues(string(kind)).Inc()
	metrics.BackupDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	metrics.BackupSizeBytes.Set(float64(b.SizeBytes))

	m.log.Info().
		Str("backup_id", b.ID).
		Str("kind", string(kind)).
		Int64("size_bytes", b.SizeBytes).
		Dur("elapsed", time.Since(started)).
		Msg("Backup completed")

	m.emit(ctx, notify.NewEvent(notify.EventBackupCompleted, notify.SeverityInfo, b.ID,
		fmt.Sprintf("backup %q completed", b.Name)).
		WithMetadata("kind", string(kind)).
		WithMetadata("size_bytes", fmt.Sprintf("%d", b.SizeBytes)))

	return b, nil
}

// export produces the archive, encodes it, writes the file, and optionally
// verifies the result, mutating b with size, checksum, and verified state.
// Every failure is a BackupFailedError carrying the phase that broke.
func (m *Manager) export(ctx context.Context, b *Backup, opts CreateOptions) error {
	stmts, err := archive.ExportAll(ctx, m.db)
	if err != nil {
		return &BackupFailedError{BackupID: b.ID, Code: CodeExportFailed, Err: err}
	}

	passphrase := ""
	if b.Encrypted {
		passphrase = m.cfg.Passphrase
	}
	payload, err := encodePayload(archive.Serialize(stmts), b.Compressed, m.cfg.CompressionLevel, passphrase)
	if err != nil {
		return &BackupFailedError{BackupID: b.ID, Code: CodeExportFailed, Err: err}
	}

	checksum, err := writeFile(b.FilePath, payload)
	if err != nil {
		return &BackupFailedError{BackupID: b.ID, Code: CodeWriteFailed, Err: err}
	}
	b.SizeBytes = int64(len(payload))
	b.Checksum = checksum

	if opts.Verify || m.cfg.VerifyAfterCreate {
		ok, err := m.verifyBackup(b)
		if err != nil {
			return &BackupFailedError{BackupID: b.ID, Code: CodeVerifyFailed, Err: err}
		}
		b.Verified = ok
		if !ok {
			return &BackupFailedError{
				BackupID: b.ID,
				Code:     CodeVerifyFailed,
				Err:      fmt.Errorf("verification failed for new backup %s", b.ID),
			}
		}
	}

	return nil
}

// errorDetail surfaces the underlying cause for persistence on the row.
func errorDetail(err error) string {
	var bf *BackupFailedError
	if errors.As(err, &bf) && bf.Err != nil {
		return bf.Err.Error()
	}
	return err.Error()
}

// Get returns one backup by id.
func (m *Manager) Get(ctx context.Context, id string) (*Backup, error) {
	return m.repo.get(ctx, id)
}

// List returns backups newest first, filtered per the filter.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Backup, error) {
	return m.repo.list(ctx, filter)
}

// Stats summarizes the backup inventory.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	return m.repo.stats(ctx)
}

// Verify checks a backup end to end: file present, checksum intact, payload
// decodable, archive parseable. The result is persisted on the row, and a
// completed backup that fails the check is flagged corrupted so it never
// becomes a restore candidate. A failed check returns (false, nil); the
// error return is reserved for faults in the verification machinery
// itself, such as the row being missing.
func (m *Manager) Verify(ctx context.Context, id string) (bool, error) {
	b, err := m.repo.get(ctx, id)
	if err != nil {
		return false, err
	}

	ok, verr := m.verifyBackup(b)
	if verr != nil {
		m.log.Warn().Err(verr).Str("backup_id", id).Msg("Backup failed verification")
		ok = false
	}

	b.Verified = ok
	if !ok && b.Status == StatusCompleted {
		b.Status = StatusCorrupted
	}
	if err := m.repo.update(ctx, b); err != nil {
		return ok, err
	}
	return ok, nil
}

// verifyBackup runs the actual checks without touching the row.
func (m *Manager) verifyBackup(b *Backup) (bool, error) {
	data, err := readFile(b)
	if err != nil {
		return false, err
	}
	if int64(len(data)) != b.SizeBytes {
		return false, fmt.Errorf("backup %s: file size %d, row records %d", b.ID, len(data), b.SizeBytes)
	}

	decoded, err := decodePayload(data, b, m.cfg.Passphrase)
	if err != nil {
		return false, err
	}
	if _, err := archive.Parse(decoded); err != nil {
		return false, fmt.Errorf("backup %s: %w", b.ID, err)
	}
	return true, nil
}

// LoadArchive reads a completed backup back into attributed statements.
// The restore engine is the primary caller.
func (m *Manager) LoadArchive(ctx context.Context, id string) (*Backup, []archive.Statement, error) {
	b, err := m.repo.get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != StatusCompleted {
		return nil, nil, fmt.Errorf("backup %s status is %s, need completed", id, b.Status)
	}

	data, err := readFile(b)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := decodePayload(data, b, m.cfg.Passphrase)
	if err != nil {
		return nil, nil, err
	}
	stmts, err := archive.Parse(decoded)
	if err != nil {
		return nil, nil, fmt.Errorf("backup %s: %w", id, err)
	}
	return b, stmts, nil
}

// Delete removes a backup's file and then its row. A missing file is
// tolerated so a half-deleted backup can always be cleaned up.
func (m *Manager) Delete(ctx context.Context, id string) error {
	return m.deleteBackup(ctx, id, "manual")
}

// DeleteExpired is Delete with retention accounting. Schedule-driven
// retention sweeps use it so manual and automatic deletions stay
// distinguishable in metrics.
func (m *Manager) DeleteExpired(ctx context.Context, id string) error {
	return m.deleteBackup(ctx, id, "retention")
}

func (m *Manager) deleteBackup(ctx context.Context, id, reason string) error {
	b, err := m.repo.get(ctx, id)
	if err != nil {
		return err
	}

	if b.FilePath != "" {
		if err := os.Remove(b.FilePath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove backup file for %s: %w", id, err)
		}
	}
	if err := m.repo.delete(ctx, id); err != nil {
		return err
	}

	metrics.BackupsDeleted.WithLabelValues(reason).Inc()
	m.log.Info().Str("backup_id", id).Str("reason", reason).Msg("Backup deleted")
	return nil
}

// Cleanup deletes completed backups older than retentionDays. Deletion is
// best effort: one stubborn backup is logged and skipped, the sweep
// continues. Returns the number deleted.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	expired, err := m.repo.olderThan(ctx, database.TimeToNanos(cutoff))
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, b := range expired {
		if err := m.deleteBackup(ctx, b.ID, "retention"); err != nil {
			m.log.Warn().Err(err).Str("backup_id", b.ID).Msg("Retention sweep could not delete backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		m.log.Info().Int("deleted", deleted).Int("retention_days", retentionDays).Msg("Retention sweep finished")
	}
	return deleted, nil
}

// emit fans an event out when a notifier is configured.
func (m *Manager) emit(ctx context.Context, event notify.Event) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, event)
	}
}
