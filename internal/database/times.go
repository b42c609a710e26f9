// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package database

import (
	"database/sql"
	"time"
)

// Timestamps are stored as integer Unix nanoseconds (UTC) so that SQL-level
// ordering and cutoff comparisons never depend on string formats.

// TimeToNanos converts a time to its stored representation.
func TimeToNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// NanosToTime converts a stored timestamp back to a UTC time.
func NanosToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// NullableTimeToNanos converts an optional time to a nullable column value.
func NullableTimeToNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: TimeToNanos(*t), Valid: true}
}

// NanosToNullableTime converts a nullable column value to an optional time.
func NanosToNullableTime(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := NanosToTime(n.Int64)
	return &t
}
