package db

import (
	"path/filepath"
	"testing"
)

func TestNew_CreatesDatabase(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	database, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	tables := []string{"media", "exports", "config", "_migrations"}
	for _, table := range tables {
		var name string
		err := database.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestNew_WALEnabled(t *testing.T) {
	database, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer database.Close()

	var journalMode string
	if err := database.Conn().QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestNew_MigrationsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var count int
	if err := db2.Conn().QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestMarkInterruptedExports(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db1, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = db1.Conn().Exec(`
		INSERT INTO media (id, kind, path, filename, size, mtime, fingerprint, created_at)
		VALUES ('m1', 'video', '/clips/a.mp4', 'a.mp4', 10, datetime('now'), 'fp', datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert media error = %v", err)
	}
	_, err = db1.Conn().Exec(`
		INSERT INTO exports (id, video_media_id, resolution, format, quality, status, progress, created_at, updated_at)
		VALUES ('e1', 'm1', '1280x720', 'mp4', 80, 'running', 40, datetime('now'), datetime('now')),
		       ('e2', 'm1', '1280x720', 'webm', 80, 'completed', 100, datetime('now'), datetime('now'))
	`)
	if err != nil {
		t.Fatalf("insert exports error = %v", err)
	}
	db1.Close()

	db2, err := New(dbPath, nil)
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	defer db2.Close()

	var status, errMsg string
	if err := db2.Conn().QueryRow("SELECT status, error FROM exports WHERE id = 'e1'").Scan(&status, &errMsg); err != nil {
		t.Fatalf("query export error = %v", err)
	}
	if status != "failed" {
		t.Errorf("export status = %s, want failed", status)
	}
	if errMsg != InterruptedMessage {
		t.Errorf("export error = %s, want %q", errMsg, InterruptedMessage)
	}

	if err := db2.Conn().QueryRow("SELECT status FROM exports WHERE id = 'e2'").Scan(&status); err != nil {
		t.Fatalf("query export error = %v", err)
	}
	if status != "completed" {
		t.Errorf("completed export status = %s, want completed", status)
	}
}
