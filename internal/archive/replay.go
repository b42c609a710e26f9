// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package archive

import (
	"context"
	"fmt"

	"github.com/boardkeep/boardkeep/internal/database"
)

// ReplayError reports the first statement that failed during replay,
// identifying the table and position so operators can locate the problem
// in the archive text.
type ReplayError struct {
	Table string
	Index int
	Err   error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay statement %d (table %s): %v", e.Index, e.Table, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}

// Replay executes statements in order through the executor and stops at the
// first failure. Callers run Replay inside a transaction when they need
// all-or-nothing semantics; Replay itself never manages one.
func Replay(ctx context.Context, exec database.Executor, stmts []Statement) error {
	for i, st := range stmts {
		if _, err := exec.ExecContext(ctx, st.SQL); err != nil {
			return &ReplayError{Table: st.Table, Index: i, Err: err}
		}
	}
	return nil
}
