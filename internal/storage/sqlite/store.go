// Package sqlite implements storage.Backend on an embedded SQLite database
// via modernc.org/sqlite (pure Go, no cgo). It is the default backend for
// a single-process, single-machine deployment (spec §4.4 "embedded").
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/memento-engine/memengine/internal/embedding"
	"github.com/memento-engine/memengine/internal/memerr"
)

// Store implements storage.Backend over a single *sql.DB. SQLite allows
// only one concurrent writer; db.SetMaxOpenConns(1) serializes writes
// through the standard library's connection pool so callers never see
// SQLITE_BUSY under normal load, and WAL mode lets readers proceed without
// blocking the writer.
type Store struct {
	db       *sql.DB
	embedder embedding.Provider
	mu       sync.Mutex // guards multi-statement sequences (e.g. CleanupDuplicates)

	// dimensionMismatch is latched by Initialize when the provider's
	// dimension disagrees with an already-stored embedding's dimension
	// (spec §4.5/§4.6 reconciliation). Once set, Store refuses further
	// writes and GetStats reports Healthy=false until the process is
	// restarted against a reconciled provider.
	dimensionMismatch bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// Open opens a SQLite database at dsn with WAL self-healing: if the
// initial open fails with an error pattern characteristic of stale -wal/
// -shm files left behind by a crashed process, and no live process holds
// those files open, it removes them and retries once.
func Open(dsn string, embedder embedding.Provider, pragmas []string, opts ...Option) (*Store, error) {
	store, err := openStore(dsn, embedder, pragmas, opts...)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" {
		return nil, err
	}
	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openStore(dsn, embedder, pragmas, opts...)
	if retryErr != nil {
		return nil, fmt.Errorf("sqlite: failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

func openStore(dsn string, embedder embedding.Provider, pragmas []string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	defaults := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range append(defaults, pragmas...) {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, embedder: embedder}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}
	return dsn
}

func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") || strings.Contains(msg, "database is locked")
}

func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) == ""
}

func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Initialize creates the schema if it does not already exist, then
// reconciles the configured provider's dimension against whatever
// dimension is already recorded in memory_vectors. A disagreement means
// the database was last written by a different embedding model; Initialize
// latches dimensionMismatch and returns a DimensionMismatch error so the
// caller can report it via health, without refusing to start the process
// (reads that don't depend on vectors, e.g. search_by_tag, still work).
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("sqlite: create schema: %w", err)
	}

	if s.embedder == nil {
		return nil
	}

	var storedDim int
	err := s.db.QueryRowContext(ctx, `SELECT dimension FROM memory_vectors LIMIT 1`).Scan(&storedDim)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: check stored embedding dimension: %w", err)
	}

	if storedDim != s.embedder.Dimension() {
		s.dimensionMismatch = true
		return memerr.New(memerr.KindDimensionMismatch, fmt.Sprintf(
			"stored embeddings have dimension %d but provider %q reports %d",
			storedDim, s.embedder.Model(), s.embedder.Dimension()))
	}

	return nil
}
