// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package backup creates, verifies, lists, and retires backups of the task
// database. A backup is an attributed SQL statement archive, optionally
// gzipped and optionally sealed in an encrypted envelope, stored as a file
// beside a metadata row in the backups table.
package backup

import (
	"errors"
	"fmt"
	"time"
)

// Kind distinguishes full exports from incrementals. An incremental carries
// a parent reference for lineage but contains a complete export; restoring
// it never requires walking a chain.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// Status tracks a backup through its lifecycle. Every attempt leaves a row
// in a terminal state; a crash mid-creation is visible as a stale
// in_progress row, never a missing one.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"

	// StatusCorrupted marks a completed backup whose file later failed
	// verification. Corrupted backups are never restore candidates.
	StatusCorrupted Status = "corrupted"
)

// Backup is the metadata row describing one backup attempt.
type Backup struct {
	ID              string
	Name            string
	Description     string
	Kind            Kind
	Status          Status
	SizeBytes       int64
	Compressed      bool
	Encrypted       bool
	Verified        bool
	Checksum        string
	FilePath        string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	ParentBackupID  *string
	RetentionPolicy *string
	Error           string
}

// CreateOptions controls a single backup creation.
type CreateOptions struct {
	Name            string
	Description     string
	Compress        bool
	Encrypt         bool
	Verify          bool
	RetentionPolicy string
}

// ListFilter narrows List results. Zero values mean no constraint; Limit 0
// means no cap.
type ListFilter struct {
	Kind   Kind
	Status Status
	Limit  int
	Offset int
}

// Stats summarizes the backup inventory.
type Stats struct {
	TotalCount     int64
	CompletedCount int64
	FailedCount    int64
	FullCount      int64
	IncrementalCnt int64
	TotalSizeBytes int64
	LastSuccessAt  *time.Time
	OldestAt       *time.Time
}

// ErrNotFound is returned when a backup id has no row.
var ErrNotFound = errors.New("backup not found")

// ParentNotFoundError is returned by CreateIncremental when the referenced
// parent does not exist or never completed. The check runs before any
// export work so a bad reference fails fast.
type ParentNotFoundError struct {
	ParentID string
	Reason   string
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("parent backup %s: %s", e.ParentID, e.Reason)
}

// Stable machine codes carried by BackupFailedError.
const (
	CodeExportFailed = "export_failed"
	CodeWriteFailed  = "write_failed"
	CodeVerifyFailed = "verify_failed"
)

// BackupFailedError reports a creation failure with a stable machine code.
// The cause is available through Unwrap, never interpolated into the
// message.
type BackupFailedError struct {
	BackupID string
	Code     string
	Err      error
}

func (e *BackupFailedError) Error() string {
	return fmt.Sprintf("backup %s failed (%s)", e.BackupID, e.Code)
}

func (e *BackupFailedError) Unwrap() error { return e.Err }
