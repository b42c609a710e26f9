// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package backup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/boardkeep/boardkeep/internal/database"
)

// repository persists backup metadata rows. All reads go through scanRow so
// column handling lives in one place.
type repository struct {
	store *database.Store
}

const backupColumns = `id, name, description, kind, status, size_bytes, compressed,
	encrypted, verified, checksum, file_path, created_at, completed_at,
	parent_backup_id, retention_policy, error`

func (r *repository) insert(ctx context.Context, b *Backup) error {
	_, err := r.store.Execute(ctx, `
		INSERT INTO backups (`+backupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Description, string(b.Kind), string(b.Status),
		b.SizeBytes, boolToInt(b.Compressed), boolToInt(b.Encrypted),
		boolToInt(b.Verified), b.Checksum, b.FilePath,
		database.TimeToNanos(b.CreatedAt), database.NullableTimeToNanos(b.CompletedAt),
		nullableString(b.ParentBackupID), nullableString(b.RetentionPolicy), b.Error)
	if err != nil {
		return fmt.Errorf("insert backup %s: %w", b.ID, err)
	}
	return nil
}

func (r *repository) update(ctx context.Context, b *Backup) error {
	changed, err := r.store.Execute(ctx, `
		UPDATE backups SET
			name = ?, description = ?, status = ?, size_bytes = ?,
			compressed = ?, encrypted = ?, verified = ?, checksum = ?,
			file_path = ?, completed_at = ?, error = ?
		WHERE id = ?`,
		b.Name, b.Description, string(b.Status), b.SizeBytes,
		boolToInt(b.Compressed), boolToInt(b.Encrypted), boolToInt(b.Verified),
		b.Checksum, b.FilePath, database.NullableTimeToNanos(b.CompletedAt),
		b.Error, b.ID)
	if err != nil {
		return fmt.Errorf("update backup %s: %w", b.ID, err)
	}
	if changed == 0 {
		return fmt.Errorf("update backup %s: %w", b.ID, ErrNotFound)
	}
	return nil
}

func (r *repository) get(ctx context.Context, id string) (*Backup, error) {
	row := r.store.QueryOne(ctx, `SELECT `+backupColumns+` FROM backups WHERE id = ?`, id)
	b, err := scanRow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

func (r *repository) list(ctx context.Context, filter ListFilter) ([]*Backup, error) {
	query := `SELECT ` + backupColumns + ` FROM backups`
	var conds []string
	var args []any

	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := r.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var backups []*Backup
	for rows.Next() {
		b, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup row: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

func (r *repository) delete(ctx context.Context, id string) error {
	changed, err := r.store.Execute(ctx, `DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	if changed == 0 {
		return fmt.Errorf("backup %s: %w", id, ErrNotFound)
	}
	return nil
}

// olderThan returns backups created before the cutoff, oldest first so
// retention deletes in age order. Status is deliberately not filtered:
// failed, corrupted, and stale crash leftovers expire like everything
// else, together with whatever partial files they left behind.
func (r *repository) olderThan(ctx context.Context, cutoffNanos int64) ([]*Backup, error) {
	rows, err := r.store.Query(ctx, `
		SELECT `+backupColumns+` FROM backups
		WHERE created_at < ?
		ORDER BY created_at ASC`,
		cutoffNanos)
	if err != nil {
		return nil, fmt.Errorf("list expired backups: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var backups []*Backup
	for rows.Next() {
		b, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup row: %w", err)
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}

func (r *repository) stats(ctx context.Context) (*Stats, error) {
	var s Stats
	var lastSuccess, oldest sql.NullInt64

	err := r.store.QueryOne(ctx, `
		SELECT
			count(*),
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE kind = 'full'),
			count(*) FILTER (WHERE kind = 'incremental'),
			coalesce(sum(size_bytes) FILTER (WHERE status = 'completed'), 0),
			max(completed_at) FILTER (WHERE status = 'completed'),
			min(created_at)
		FROM backups`).Scan(
		&s.TotalCount, &s.CompletedCount, &s.FailedCount,
		&s.FullCount, &s.IncrementalCnt, &s.TotalSizeBytes,
		&lastSuccess, &oldest)
	if err != nil {
		return nil, fmt.Errorf("backup stats: %w", err)
	}

	s.LastSuccessAt = database.NanosToNullableTime(lastSuccess)
	s.OldestAt = database.NanosToNullableTime(oldest)
	return &s, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRow(row scanner) (*Backup, error) {
	var b Backup
	var kind, status string
	var compressed, encrypted, verified int
	var createdAt int64
	var completedAt sql.NullInt64
	var parentID, retention sql.NullString

	err := row.Scan(&b.ID, &b.Name, &b.Description, &kind, &status,
		&b.SizeBytes, &compressed, &encrypted, &verified, &b.Checksum,
		&b.FilePath, &createdAt, &completedAt, &parentID, &retention, &b.Error)
	if err != nil {
		return nil, err
	}

	b.Kind = Kind(kind)
	b.Status = Status(status)
	b.Compressed = compressed != 0
	b.Encrypted = encrypted != 0
	b.Verified = verified != 0
	b.CreatedAt = database.NanosToTime(createdAt)
	b.CompletedAt = database.NanosToNullableTime(completedAt)
	if parentID.Valid {
		b.ParentBackupID = &parentID.String
	}
	if retention.Valid {
		b.RetentionPolicy = &retention.String
	}
	return &b, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
