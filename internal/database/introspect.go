// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// userTables lists the user-visible tables in export order. Parents precede
// children so a replayed statement stream never violates a foreign key.
var userTables = []string{
	"boards",
	"tags",
	"tasks",
	"task_tags",
	"task_dependencies",
	"notes",
}

// requiredIndexes are the indexes a healthy database must carry.
var requiredIndexes = []string{
	"idx_tasks_board_id",
	"idx_tasks_status",
	"idx_notes_task_id",
}

// UserTables returns the user-visible tables in stable export order.
// Engine metadata tables (backups, backup_schedules, goose bookkeeping)
// are deliberately excluded: they are never part of a backup.
func UserTables() []string {
	tables := make([]string, len(userTables))
	copy(tables, userTables)
	return tables
}

// RequiredIndexes returns the index names integrity checks expect to exist.
func RequiredIndexes() []string {
	idx := make([]string, len(requiredIndexes))
	copy(idx, requiredIndexes)
	return idx
}

// IsUserTable reports whether name is one of the exported user tables.
func IsUserTable(name string) bool {
	for _, t := range userTables {
		if t == name {
			return true
		}
	}
	return false
}

// TableSchema returns the CREATE TABLE statement for a table as recorded in
// sqlite_master.
func (s *Store) TableSchema(ctx context.Context, table string) (string, error) {
	var schema string
	err := s.db.QueryRowContext(ctx,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&schema)
	if err != nil {
		return "", fmt.Errorf("schema for table %s: %w", table, err)
	}
	return schema, nil
}

// TableExists reports whether a table is present in the database.
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return true, nil
}

// IndexExists reports whether an index is present in the database.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", name, err)
	}
	return true, nil
}

// RowCount returns the number of rows in a table. The table name must come
// from UserTables; it is interpolated, not bound.
func (s *Store) RowCount(ctx context.Context, table string) (int64, error) {
	if !IsUserTable(table) {
		return 0, fmt.Errorf("row count: %q is not a user table", table)
	}

	var count int64
	//nolint:gosec // table name is validated against the fixed user-table list
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rows in %s: %w", table, err)
	}
	return count, nil
}

// ClearTable deletes every row from a user table through the given executor,
// so the caller controls the transaction boundary.
func ClearTable(ctx context.Context, exec Executor, table string) error {
	if !IsUserTable(table) {
		return fmt.Errorf("clear: %q is not a user table", table)
	}

	//nolint:gosec // table name is validated against the fixed user-table list
	if _, err := exec.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("clear table %s: %w", table, err)
	}
	return nil
}

// IntegrityCheck runs SQLite's internal consistency check and returns the
// reported problems, empty when the database is healthy.
func (s *Store) IntegrityCheck(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA quick_check")
	if err != nil {
		return nil, fmt.Errorf("quick_check: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan quick_check row: %w", err)
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// ForeignKeyViolation describes one row failing a foreign key constraint.
type ForeignKeyViolation struct {
	Table  string
	RowID  int64
	Parent string
}

// ForeignKeyCheck returns all rows violating foreign key constraints.
func (s *Store) ForeignKeyCheck(ctx context.Context) ([]ForeignKeyViolation, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return nil, fmt.Errorf("foreign_key_check: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var violations []ForeignKeyViolation
	for rows.Next() {
		var v ForeignKeyViolation
		var fkID int64
		var rowID sql.NullInt64
		if err := rows.Scan(&v.Table, &rowID, &v.Parent, &fkID); err != nil {
			return nil, fmt.Errorf("scan foreign_key_check row: %w", err)
		}
		v.RowID = rowID.Int64
		violations = append(violations, v)
	}
	return violations, rows.Err()
}
