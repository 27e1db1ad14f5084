package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func createTestDB(t *testing.T, dbPath string) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create test directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(`
		CREATE TABLE memories (
			content_hash TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT 'fact',
			metadata TEXT,
			created_at REAL NOT NULL,
			created_at_iso TEXT NOT NULL,
			updated_at REAL NOT NULL,
			updated_at_iso TEXT NOT NULL
		)
	`); err != nil {
		t.Fatalf("failed to create memories table: %v", err)
	}

	if _, err := db.Exec(`
		INSERT INTO memories (content_hash, content, created_at, created_at_iso, updated_at, updated_at_iso)
		VALUES
			('h1', 'one', 1, '1970-01-01T00:00:01Z', 1, '1970-01-01T00:00:01Z'),
			('h2', 'two', 2, '1970-01-01T00:00:02Z', 2, '1970-01-01T00:00:02Z'),
			('h3', 'three', 3, '1970-01-01T00:00:03Z', 3, '1970-01-01T00:00:03Z')
	`); err != nil {
		t.Fatalf("failed to insert test memories: %v", err)
	}
}

func countTestRecords(t *testing.T, dbPath string) int {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", dbPath))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		t.Fatalf("failed to count records: %v", err)
	}
	return count
}

func newTestService(t *testing.T, dbPath, backupDir string) *BackupService {
	svc, err := NewBackupService(BackupConfig{
		DBPath:        dbPath,
		BackupDir:     backupDir,
		Interval:      time.Hour,
		VerifyBackups: true,
	})
	if err != nil {
		t.Fatalf("failed to create backup service: %v", err)
	}
	return svc
}

func TestBackupNowCreatesVerifiedBackupWithSameData(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	createTestDB(t, dbPath)

	svc := newTestService(t, dbPath, filepath.Join(dir, "backups"))

	result, err := svc.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}
	if result.Path == "" || result.Size <= 0 || !result.Verified {
		t.Fatalf("unexpected backup result: %+v", result)
	}
	if result.MemoryCount != 3 {
		t.Errorf("expected MemoryCount 3, got %d", result.MemoryCount)
	}
	if got := countTestRecords(t, result.Path); got != 3 {
		t.Errorf("expected 3 records in backup, got %d", got)
	}
}

func TestBackupNowOnMissingDatabaseFails(t *testing.T) {
	dir := t.TempDir()
	svc := newTestService(t, filepath.Join(dir, "missing.db"), filepath.Join(dir, "backups"))

	if _, err := svc.BackupNow(context.Background()); err == nil {
		t.Fatal("expected BackupNow against a missing database to fail")
	}
}

func TestRestoreBackupRoundTrips(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	createTestDB(t, dbPath)

	svc := newTestService(t, dbPath, filepath.Join(dir, "backups"))
	result, err := svc.BackupNow(context.Background())
	if err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	// Corrupt the live database, then restore from the backup.
	if err := os.WriteFile(dbPath, []byte("not a database"), 0o644); err != nil {
		t.Fatalf("failed to corrupt database: %v", err)
	}

	if err := svc.RestoreBackup(context.Background(), result.Path); err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}
	if got := countTestRecords(t, dbPath); got != 3 {
		t.Errorf("expected 3 records after restore, got %d", got)
	}
}

func TestHealthCheckReflectsBackupHistory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	createTestDB(t, dbPath)

	svc := newTestService(t, dbPath, filepath.Join(dir, "backups"))

	health, err := svc.HealthCheck()
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if health.LastBackup.IsZero() == false {
		t.Fatalf("expected no last backup before any BackupNow call")
	}

	if _, err := svc.BackupNow(context.Background()); err != nil {
		t.Fatalf("BackupNow failed: %v", err)
	}

	health, err = svc.HealthCheck()
	if err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
	if health.LastBackup.IsZero() {
		t.Fatal("expected LastBackup to be set after a backup")
	}
	if health.TotalBackups != 1 {
		t.Errorf("expected 1 backup on disk, got %d", health.TotalBackups)
	}
	if health.LastBackupMemoryCount != 3 {
		t.Errorf("expected LastBackupMemoryCount 3, got %d", health.LastBackupMemoryCount)
	}
}

func TestNewBackupServiceRequiresPaths(t *testing.T) {
	if _, err := NewBackupService(BackupConfig{BackupDir: t.TempDir()}); err == nil {
		t.Fatal("expected missing DBPath to be rejected")
	}
	if _, err := NewBackupService(BackupConfig{DBPath: "db.sqlite"}); err == nil {
		t.Fatal("expected missing BackupDir to be rejected")
	}
}
