// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package database provides the SQLite-backed record store for Boardkeep.
//
// The store exposes a deliberately narrow contract — Query, QueryOne,
// Execute, and Transaction — so the backup engine can treat it as an opaque
// SQL executor and transaction boundary. Schema management runs through
// goose migrations embedded in the binary.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boardkeep/boardkeep/internal/metrics"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Executor is the subset of database/sql operations shared by *sql.DB and
// *sql.Tx. Replay and restore code is written against this interface so the
// same statements run inside or outside a transaction.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite connection pool.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the SQLite database at path and runs pending migrations.
// WAL mode and foreign keys are enabled on every connection.
func Open(path string, busyTimeout time.Duration) (*Store, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	// modernc.org/sqlite takes pragmas in _pragma=name(value) form; the
	// mattn-style _journal_mode keys are silently ignored by this driver.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the filesystem path of the database file.
func (s *Store) Path() string {
	return s.path
}

// DB exposes the underlying pool for callers that need raw access.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Query runs a query returning multiple rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	metrics.ObserveQuery("query", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// QueryOne runs a query expected to return at most one row.
// The caller scans the returned row; sql.ErrNoRows signals absence.
func (s *Store) QueryOne(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

// Execute runs a statement and returns the number of affected rows.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	metrics.ObserveQuery("execute", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("execute: %w", err)
	}

	changes, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return changes, nil
}

// Transaction runs fn inside a transaction. Any error returned by fn rolls
// back every statement issued through the scoped executor; a nil return
// commits. A panic inside fn also rolls back before re-panicking.
func (s *Store) Transaction(ctx context.Context, fn func(tx Executor) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback() //nolint:errcheck // Best effort rollback on panic
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
