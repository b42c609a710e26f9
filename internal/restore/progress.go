// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package restore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/database"
)

// Stage names one phase of a tracked restore.
type Stage string

const (
	StageValidate Stage = "validate"
	StageRead     Stage = "read"
	StageClear    Stage = "clear"
	StageApply    Stage = "apply"
	StageVerify   Stage = "verify"
)

// stageOrder is the fixed sequence of a tracked restore.
var stageOrder = []Stage{StageValidate, StageRead, StageClear, StageApply, StageVerify}

// Progress is a point-in-time snapshot of a tracked restore.
type Progress struct {
	ID          string     `json:"id"`
	BackupID    string     `json:"backupId"`
	Stage       Stage      `json:"stage"`
	StagesDone  []Stage    `json:"stagesDone"`
	Percent     int        `json:"percent"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Failed      bool       `json:"failed"`
	Error       string     `json:"error,omitempty"`
}

// ErrProgressNotFound is returned for unknown progress ids.
var ErrProgressNotFound = errors.New("restore progress not found")

// progressTracker keeps snapshots in memory. Progress is observability
// only; an update problem never aborts a restore, and entries do not
// survive a restart.
type progressTracker struct {
	mu      sync.RWMutex
	entries map[string]*Progress
}

func newProgressTracker() *progressTracker {
	return &progressTracker{entries: make(map[string]*Progress)}
}

func (t *progressTracker) start(backupID string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.entries[id] = &Progress{
		ID:        id,
		BackupID:  backupID,
		Stage:     stageOrder[0],
		StartedAt: time.Now().UTC(),
	}
	t.mu.Unlock()
	return id
}

func (t *progressTracker) advance(id string, done Stage, next Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok {
		return
	}
	p.StagesDone = append(p.StagesDone, done)
	p.Stage = next
	p.Percent = len(p.StagesDone) * 100 / len(stageOrder)
}

func (t *progressTracker) complete(id string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	p.CompletedAt = &now
	if err != nil {
		p.Failed = true
		p.Error = err.Error()
	}
}

func (t *progressTracker) snapshot(id string) (*Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	copied := *p
	copied.StagesDone = append([]Stage(nil), p.StagesDone...)
	return &copied, true
}

// GetProgress returns a snapshot of a tracked restore.
func (e *Engine) GetProgress(id string) (*Progress, error) {
	p, ok := e.progress.snapshot(id)
	if !ok {
		return nil, ErrProgressNotFound
	}
	return p, nil
}

// RestoreWithProgress runs a full restore while recording per-stage
// progress under a fresh id. The id is returned even on failure so callers
// can inspect which stage broke.
func (e *Engine) RestoreWithProgress(ctx context.Context, backupID string, opts Options) (string, error) {
	started := time.Now()
	id := e.progress.start(backupID)
	err := e.runTracked(ctx, id, backupID, opts)
	e.progress.complete(id, err)
	e.finish(ctx, "full", backupID, started, err)
	return id, err
}

func (e *Engine) runTracked(ctx context.Context, id, backupID string, opts Options) error {
	result, err := e.Validate(ctx, backupID, ValidateOptions{})
	if err != nil {
		return err
	}
	if !result.Valid {
		return errors.New("backup failed validation: " + result.Errors[0])
	}
	e.progress.advance(id, StageValidate, StageRead)

	_, stmts, err := e.backups.LoadArchive(ctx, backupID)
	if err != nil {
		return err
	}
	e.progress.advance(id, StageRead, StageClear)

	data := dataOnly(stmts)
	err = e.db.Transaction(ctx, func(tx database.Executor) error {
		if !opts.PreserveExisting {
			if err := clearAll(ctx, tx); err != nil {
				return err
			}
		}
		e.progress.advance(id, StageClear, StageApply)
		return archive.Replay(ctx, tx, data)
	})
	if err != nil {
		return err
	}
	e.progress.advance(id, StageApply, StageVerify)

	if err := e.verifyAfter(ctx, backupID); err != nil {
		return err
	}
	e.progress.advance(id, StageVerify, StageVerify)
	return nil
}
