// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package restore

import (
	"context"
	"fmt"
	"time"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/database"
)

// ValidateOptions narrows what Validate checks beyond archive structure.
type ValidateOptions struct {
	// PointInTime, when set, requires the backup to have been created at
	// or before it, matching point-in-time selection.
	PointInTime *time.Time
}

// TableCheck reports what the archive holds for one expected table.
type TableCheck struct {
	Table          string `json:"table"`
	SchemaPresent  bool   `json:"schemaPresent"`
	StatementCount int    `json:"statementCount"`
}

// ValidationResult is the outcome of pre-restore validation. Problems are
// collected, not thrown: the caller sees everything wrong with an archive
// in one pass.
type ValidationResult struct {
	Valid       bool         `json:"valid"`
	TableChecks []TableCheck `json:"tableChecks"`
	Errors      []string     `json:"errors"`
}

// Validate inspects a backup without touching the live database: the file
// must load and decode, the archive must parse, and every expected user
// table should appear with its schema. Unknown tables in the archive are
// reported as errors since replaying them would fail.
func (e *Engine) Validate(ctx context.Context, backupID string, opts ValidateOptions) (*ValidationResult, error) {
	result := &ValidationResult{Valid: true}

	b, stmts, err := e.backups.LoadArchive(ctx, backupID)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
		return result, nil
	}

	if opts.PointInTime != nil && b.CreatedAt.After(*opts.PointInTime) {
		result.Valid = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("backup was created at %s, after the requested point in time %s",
				b.CreatedAt.Format(time.RFC3339), opts.PointInTime.Format(time.RFC3339)))
	}

	perTable := make(map[string]*TableCheck)
	for _, name := range database.UserTables() {
		perTable[name] = &TableCheck{Table: name}
	}

	for _, st := range stmts {
		check, known := perTable[st.Table]
		if !known {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("archive contains unknown table %q", st.Table))
			continue
		}
		check.StatementCount++
		if st.Kind == archive.KindSchema {
			check.SchemaPresent = true
		}
	}

	for _, name := range database.UserTables() {
		check := perTable[name]
		if !check.SchemaPresent {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("archive is missing schema for table %q", name))
		}
		result.TableChecks = append(result.TableChecks, *check)
	}

	return result, nil
}
