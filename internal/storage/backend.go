// Package storage defines the capability interface every concrete backend
// (embedded SQLite, cloud Postgres+pgvector, HTTP-federated) satisfies
// (spec §4.4), plus the option and result types shared across them.
package storage

import (
	"context"
	"time"

	"github.com/memento-engine/memengine/pkg/memory"
)

// Backend is the set of operations the engine relies on from any storage
// implementation. Errors returned by any method should be *memerr.Error so
// callers can branch on Kind; a method that can only fail in ways already
// covered by its typed return values (store/delete's bool, for example)
// still returns error for genuinely exceptional conditions (a closed
// connection, a context deadline).
type Backend interface {
	// Initialize creates schema if needed. The embedded backend also
	// verifies the stored embedding dimension (if any) matches the
	// configured provider's; the cloud backend does not check it.
	// Idempotent: calling it again against an already-initialized store
	// is a no-op beyond the dimension check.
	Initialize(ctx context.Context) error

	// Store persists m. stored=false (with a nil error) means m.ContentHash
	// already existed — a duplicate write is a normal outcome, not a
	// failure (spec I1, §7 Duplicate).
	Store(ctx context.Context, m *memory.Memory) (stored bool, message string, err error)

	// Retrieve runs a semantic query, embedding it and ranking candidates
	// per I7. May perform late embedding on records stored before the
	// provider was ready.
	Retrieve(ctx context.Context, query string, n int, minSimilarity float64) ([]memory.QueryResult, error)

	// SearchByTag returns memories matching tags; matchAll selects
	// intersection (AND) vs. union (OR) semantics (I6).
	SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error)

	// SearchByTime returns memories with created_at in [start, end],
	// inclusive, ordered by created_at descending, capped at n.
	SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error)

	// SearchSimilarTo returns the n nearest neighbors to the stored
	// embedding of contentHash, excluding the source record itself.
	SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error)

	// Delete removes the memory, its tag rows, and any vector/large-object
	// data atomically from the caller's perspective (I5). deleted=false
	// with a nil error means contentHash was not found.
	Delete(ctx context.Context, contentHash string) (deleted bool, message string, err error)

	// DeleteByTag removes every memory carrying tag. hashes is populated
	// only when detail is true.
	DeleteByTag(ctx context.Context, tag string, detail bool) (count int, hashes []string, err error)

	// UpdateMetadata applies patch to the memory identified by
	// contentHash, bumping updated_at. Returns a NotFound *memerr.Error if
	// contentHash does not exist.
	UpdateMetadata(ctx context.Context, contentHash string, patch MetadataPatch) error

	// CleanupDuplicates merges records that share a content_hash (a
	// condition that should not occur under I1 but may after a migration
	// or manual edit), keeping the earliest created_at and unioning tags.
	// Returns the number of rows removed.
	CleanupDuplicates(ctx context.Context) (int, error)

	// GetStats returns the uniform stats/health shape (§4.11).
	GetStats(ctx context.Context) (Stats, error)

	// List returns a page of memories ordered by created_at descending,
	// after applying opts' filters.
	List(ctx context.Context, opts ListOptions) (PaginatedResult[memory.Memory], error)

	// Close releases resources (connections, file handles) held by the
	// backend.
	Close() error
}

// MetadataPatch describes a partial update to a memory's metadata/tags/
// memory_type (spec §4.8 update_memory_metadata). A nil field leaves the
// corresponding record field untouched; Metadata is merged key-by-key,
// Tags replaces the set wholesale when non-nil (per the Open Questions
// decision in DESIGN.md).
type MetadataPatch struct {
	Metadata   map[string]interface{}
	Tags       []string
	MemoryType *string
}
