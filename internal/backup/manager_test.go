// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/database"
)

// newTestManager opens a fresh database and manager rooted in a temp dir.
func newTestManager(t *testing.T, cfg Config) (*Manager, *database.Store) {
	t.Helper()

	dir := t.TempDir()
	store, err := database.Open(filepath.Join(dir, "boardkeep.db"), time.Second)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() }) //nolint:errcheck // test cleanup

	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(dir, "backups")
	}
	mgr, err := NewManager(cfg, store, nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, store
}

// seedBoard inserts a board and a task so exports carry data rows.
func seedBoard(t *testing.T, store *database.Store) {
	t.Helper()
	ctx := context.Background()
	now := database.TimeToNanos(time.Now())

	if _, err := store.Execute(ctx,
		`INSERT INTO boards (id, name, position, created_at, updated_at) VALUES ('b1', 'Sprint 12', 0, ?, ?)`,
		now, now); err != nil {
		t.Fatalf("seed board: %v", err)
	}
	if _, err := store.Execute(ctx,
		`INSERT INTO tasks (id, board_id, title, status, priority, position, created_at, updated_at)
		 VALUES ('t1', 'b1', 'Write the report', 'todo', 2, 0, ?, ?)`,
		now, now); err != nil {
		t.Fatalf("seed task: %v", err)
	}
}

func TestCreateFull(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{Name: "nightly"})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	if b.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", b.Status)
	}
	if b.Kind != KindFull {
		t.Errorf("Kind = %s, want full", b.Kind)
	}
	if b.SizeBytes <= 0 {
		t.Errorf("SizeBytes = %d, want > 0", b.SizeBytes)
	}
	if b.CompletedAt == nil {
		t.Error("CompletedAt is nil")
	}
	if _, err := os.Stat(b.FilePath); err != nil {
		t.Errorf("backup file missing: %v", err)
	}

	// The archive must contain the seeded rows.
	_, stmts, err := mgr.LoadArchive(ctx, b.ID)
	if err != nil {
		t.Fatalf("LoadArchive() error = %v", err)
	}
	found := false
	for _, st := range stmts {
		if st.Table == "tasks" && st.Kind == archive.KindData && strings.Contains(st.SQL, "Write the report") {
			found = true
		}
	}
	if !found {
		t.Error("exported archive missing seeded task row")
	}
}

func TestCreateFullCompressedAndEncrypted(t *testing.T) {
	mgr, store := newTestManager(t, Config{
		Compression:      true,
		CompressionLevel: 6,
		Passphrase:       "passphrase-12345",
	})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{Encrypt: true})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	if !b.Compressed || !b.Encrypted {
		t.Errorf("flags = compressed:%v encrypted:%v, want both true", b.Compressed, b.Encrypted)
	}
	if !strings.HasSuffix(b.FilePath, ".sql.gz.enc") {
		t.Errorf("FilePath = %q, want .sql.gz.enc suffix", b.FilePath)
	}

	raw, err := os.ReadFile(b.FilePath)
	if err != nil {
		t.Fatalf("read backup file: %v", err)
	}
	if strings.Contains(string(raw), "Sprint 12") {
		t.Error("encrypted backup leaks plaintext")
	}

	_, stmts, err := mgr.LoadArchive(ctx, b.ID)
	if err != nil {
		t.Fatalf("LoadArchive() error = %v", err)
	}
	if len(stmts) == 0 {
		t.Error("decoded archive is empty")
	}
}

func TestCreateFullEncryptsFromManagerConfig(t *testing.T) {
	mgr, store := newTestManager(t, Config{
		Encryption: true,
		Passphrase: "passphrase-12345",
	})
	seedBoard(t, store)
	ctx := context.Background()

	// Callers that never ask for encryption still get it when the manager
	// is configured for it, matching how compression behaves.
	b, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	if !b.Encrypted {
		t.Error("Encrypted = false with manager-level encryption enabled")
	}
	if !strings.HasSuffix(b.FilePath, ".sql.enc") {
		t.Errorf("FilePath = %q, want .sql.enc suffix", b.FilePath)
	}

	raw, err := os.ReadFile(b.FilePath)
	if err != nil {
		t.Fatalf("read backup file: %v", err)
	}
	if strings.Contains(string(raw), "CREATE TABLE") {
		t.Error("backup file contains readable plaintext")
	}
}

func TestCreateEncryptWithoutPassphrase(t *testing.T) {
	mgr, _ := newTestManager(t, Config{})

	_, err := mgr.CreateFull(context.Background(), CreateOptions{Encrypt: true})
	if err == nil {
		t.Error("CreateFull() with encrypt and no passphrase: error = nil, want error")
	}
}

func TestCreateIncremental(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	parent, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	inc, err := mgr.CreateIncremental(ctx, parent.ID, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateIncremental() error = %v", err)
	}
	if inc.Kind != KindIncremental {
		t.Errorf("Kind = %s, want incremental", inc.Kind)
	}
	if inc.ParentBackupID == nil || *inc.ParentBackupID != parent.ID {
		t.Errorf("ParentBackupID = %v, want %s", inc.ParentBackupID, parent.ID)
	}

	// An incremental is self-contained: it restores without its parent.
	_, stmts, err := mgr.LoadArchive(ctx, inc.ID)
	if err != nil {
		t.Fatalf("LoadArchive() error = %v", err)
	}
	if got := archive.Tables(stmts); len(got) != len(database.UserTables()) {
		t.Errorf("incremental covers %d tables, want %d", len(got), len(database.UserTables()))
	}
}

func TestCreateIncrementalBadParent(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	var parentErr *ParentNotFoundError
	_, err := mgr.CreateIncremental(ctx, "no-such-id", CreateOptions{})
	if !errors.As(err, &parentErr) {
		t.Errorf("CreateIncremental(missing) error = %v, want ParentNotFoundError", err)
	}

	// A failed parent is as unusable as a missing one.
	failed := &Backup{
		ID: "failed-parent", Name: "broken", Kind: KindFull,
		Status: StatusFailed, CreatedAt: time.Now().UTC(),
	}
	if err := mgr.repo.insert(ctx, failed); err != nil {
		t.Fatalf("insert failed parent: %v", err)
	}
	_, err = mgr.CreateIncremental(ctx, "failed-parent", CreateOptions{})
	if !errors.As(err, &parentErr) {
		t.Errorf("CreateIncremental(failed parent) error = %v, want ParentNotFoundError", err)
	}
}

func TestVerify(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	ok, err := mgr.Verify(ctx, b.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !ok {
		t.Error("Verify() = false for intact backup")
	}

	got, err := mgr.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.Verified {
		t.Error("verified flag not persisted")
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	if err := os.WriteFile(b.FilePath, []byte("corrupted"), 0o600); err != nil {
		t.Fatalf("corrupt backup file: %v", err)
	}

	ok, err := mgr.Verify(ctx, b.ID)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if ok {
		t.Error("Verify() = true for corrupted backup")
	}

	got, err := mgr.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Verified {
		t.Error("verified flag still set after failed verification")
	}
	if got.Status != StatusCorrupted {
		t.Errorf("Status = %s, want %s", got.Status, StatusCorrupted)
	}
}

func TestDeleteTolerateMissingFile(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	if err := os.Remove(b.FilePath); err != nil {
		t.Fatalf("remove backup file: %v", err)
	}

	if err := mgr.Delete(ctx, b.ID); err != nil {
		t.Errorf("Delete() with missing file error = %v", err)
	}
	if _, err := mgr.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestListFilter(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	full, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	if _, err := mgr.CreateIncremental(ctx, full.ID, CreateOptions{}); err != nil {
		t.Fatalf("CreateIncremental() error = %v", err)
	}

	all, err := mgr.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List() returned %d, want 2", len(all))
	}
	// Newest first.
	if !all[0].CreatedAt.After(all[1].CreatedAt) && !all[0].CreatedAt.Equal(all[1].CreatedAt) {
		t.Error("List() not ordered newest first")
	}

	fulls, err := mgr.List(ctx, ListFilter{Kind: KindFull})
	if err != nil {
		t.Fatalf("List(kind=full) error = %v", err)
	}
	if len(fulls) != 1 || fulls[0].ID != full.ID {
		t.Errorf("List(kind=full) = %d rows", len(fulls))
	}

	limited, err := mgr.List(ctx, ListFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List(limit) error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("List(limit=1 offset=1) = %d rows, want 1", len(limited))
	}
}

func TestCleanup(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	b, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	// Backdate the row past the retention window.
	old := database.TimeToNanos(time.Now().AddDate(0, 0, -40))
	if _, err := store.Execute(ctx, `UPDATE backups SET created_at = ? WHERE id = ?`, old, b.ID); err != nil {
		t.Fatalf("backdate backup: %v", err)
	}

	recent, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	deleted, err := mgr.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() deleted %d, want 1", deleted)
	}
	if _, err := mgr.Get(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired backup still present: %v", err)
	}
	if _, err := mgr.Get(ctx, recent.ID); err != nil {
		t.Errorf("recent backup was deleted: %v", err)
	}

	if _, err := mgr.Cleanup(ctx, 0); err == nil {
		t.Error("Cleanup(0) error = nil, want error")
	}
}

func TestCleanupSweepsNonCompletedBackups(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	failed, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	stale, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	// Simulate a failed run and a crash leftover, both past retention.
	old := database.TimeToNanos(time.Now().AddDate(0, 0, -40))
	if _, err := store.Execute(ctx,
		`UPDATE backups SET status = 'failed', created_at = ? WHERE id = ?`, old, failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if _, err := store.Execute(ctx,
		`UPDATE backups SET status = 'in_progress', created_at = ? WHERE id = ?`, old, stale.ID); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	deleted, err := mgr.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Cleanup() deleted %d, want 2", deleted)
	}
	for _, id := range []string{failed.ID, stale.ID} {
		if _, err := mgr.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("backup %s survived the sweep: %v", id, err)
		}
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	expired, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	old := database.TimeToNanos(time.Now().AddDate(0, 0, -40))
	if _, err := store.Execute(ctx, `UPDATE backups SET created_at = ? WHERE id = ?`, old, expired.ID); err != nil {
		t.Fatalf("backdate backup: %v", err)
	}
	kept, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}

	first, err := mgr.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if first != 1 {
		t.Errorf("first Cleanup() deleted %d, want 1", first)
	}

	// A second sweep with no new backups must change nothing.
	second, err := mgr.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
	if second != 0 {
		t.Errorf("second Cleanup() deleted %d, want 0", second)
	}

	remaining, err := mgr.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != kept.ID {
		t.Errorf("remaining backups = %d, want only %s", len(remaining), kept.ID)
	}
}

func TestStats(t *testing.T) {
	mgr, store := newTestManager(t, Config{})
	seedBoard(t, store)
	ctx := context.Background()

	full, err := mgr.CreateFull(ctx, CreateOptions{})
	if err != nil {
		t.Fatalf("CreateFull() error = %v", err)
	}
	if _, err := mgr.CreateIncremental(ctx, full.ID, CreateOptions{}); err != nil {
		t.Fatalf("CreateIncremental() error = %v", err)
	}

	stats, err := mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalCount != 2 || stats.CompletedCount != 2 {
		t.Errorf("counts = total:%d completed:%d, want 2/2", stats.TotalCount, stats.CompletedCount)
	}
	if stats.FullCount != 1 || stats.IncrementalCnt != 1 {
		t.Errorf("kind counts = full:%d incremental:%d, want 1/1", stats.FullCount, stats.IncrementalCnt)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Errorf("TotalSizeBytes = %d, want > 0", stats.TotalSizeBytes)
	}
	if stats.LastSuccessAt == nil {
		t.Error("LastSuccessAt is nil")
	}
}
