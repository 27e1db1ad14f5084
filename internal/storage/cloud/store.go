// Package cloud implements storage.Backend on Postgres+pgvector (spec
// §4.6): a shared, multi-writer backend meant for a coordinator process
// other instances talk to via internal/storage/federated, with retry and
// circuit-breaking around every round trip since the database is a real
// network dependency rather than a local file.
package cloud

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/memento-engine/memengine/internal/embedding"
	"github.com/memento-engine/memengine/internal/resilience"
)

// Store implements storage.Backend over Postgres.
type Store struct {
	db                *sql.DB
	embedder          embedding.Provider
	breaker           *resilience.Breaker
	maxRetries        int
	baseDelay         time.Duration
	pgvectorAvailable bool
	largeDir          string
	largeThreshold    int
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLargeObjectDir sets the directory content spills to past
// WithLargeObjectThreshold. Unset, spill is disabled and content always
// stays inline — large-object spill is opt-in even on the cloud backend.
func WithLargeObjectDir(dir string) Option {
	return func(s *Store) { s.largeDir = dir }
}

// WithLargeObjectThreshold sets the byte threshold past which Store
// content spills to WithLargeObjectDir instead of staying inline.
func WithLargeObjectThreshold(n int) Option {
	return func(s *Store) { s.largeThreshold = n }
}

// Open connects to dsn, applies the base schema, and probes for the
// pgvector extension. A server without pgvector is not a fatal condition —
// Retrieve and SearchSimilarTo degrade to loading the BYTEA column and
// scoring in Go, the same fallback the teacher's postgres package uses.
func Open(ctx context.Context, dsn string, embedder embedding.Provider, maxRetries int, baseDelay time.Duration, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cloud: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cloud: ping: %w", err)
	}

	s := &Store{
		db:         db,
		embedder:   embedder,
		breaker:    resilience.NewBreaker("cloud-storage"),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.baseDelay <= 0 {
		s.baseDelay = time.Second
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initialize applies the base schema, then attempts the pgvector extension
// and column migration; failure of the latter only disables ANN search.
// It does not compare the dimension of stored embeddings against the
// provider's, so a dimension mismatch is not reported here.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("cloud: apply schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		log.Printf("cloud: pgvector extension not available (falling back to full-scan search): %v", err)
		s.pgvectorAvailable = false
		return nil
	}
	s.pgvectorAvailable = true

	if _, err := s.db.ExecContext(ctx, pgvectorColumnSQL); err != nil {
		log.Printf("cloud: pgvector column migration failed (falling back to full-scan search): %v", err)
		s.pgvectorAvailable = false
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry wraps fn with the configured exponential-backoff retry, itself
// guarded by the circuit breaker so a database that is down fails fast
// instead of exhausting every caller's retry budget against it.
func (s *Store) withRetry(ctx context.Context, fn func(context.Context) error) error {
	_, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return nil, resilience.Retry(ctx, s.maxRetries, s.baseDelay, func(int) error {
			return fn(ctx)
		})
	})
	return err
}
