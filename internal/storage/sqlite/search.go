package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/query"
	"github.com/memento-engine/memengine/pkg/memory"
)

// vectorCandidateCap bounds how many embeddings are loaded into Go memory
// for a single semantic query. Candidates are selected in recency order, so
// the most recently created memories are always considered first; beyond
// this cap, a deployment should move to the cloud (pgvector) backend for
// indexed ANN search instead of a full scan.
const vectorCandidateCap = 10_000

// retrieveBackfillBatch bounds how many not-yet-embedded memories Retrieve
// opportunistically embeds inline before ranking, so a provider that just
// became ready surfaces older memories on the very next retrieve_memory
// call instead of only after an out-of-band BackfillMissingEmbeddings run.
const retrieveBackfillBatch = 200

// Retrieve runs a semantic query against stored embeddings. A provider that
// is not ready degrades the query to an empty result set rather than
// failing the RPC (spec §4.3); once the provider is ready, Retrieve first
// backfills a bounded batch of memories that were written before the
// provider came up, so they are immediately eligible for ranking.
func (s *Store) Retrieve(ctx context.Context, q string, n int, minSimilarity float64) ([]memory.QueryResult, error) {
	if s.embedder == nil || !s.embedder.Ready() {
		return []memory.QueryResult{}, nil
	}

	if _, err := s.BackfillMissingEmbeddings(ctx, retrieveBackfillBatch); err != nil {
		log.Printf("sqlite: retrieve: inline backfill failed: %v", err)
	}

	queryVec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "embed query", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.content_hash, v.embedding, v.dimension
		FROM memory_vectors v
		JOIN memories m ON m.content_hash = v.content_hash
		ORDER BY m.created_at DESC
		LIMIT ?`, vectorCandidateCap)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "load embeddings", err)
	}

	type candidate struct {
		hash  string
		score float64
	}
	var candidates []candidate
	for rows.Next() {
		var hash string
		var blob []byte
		var dim int
		if err := rows.Scan(&hash, &blob, &dim); err != nil {
			rows.Close()
			return nil, memerr.Wrap(memerr.KindInternal, "scan embedding", err)
		}
		vec, err := deserializeEmbedding(blob, dim)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{hash, query.CosineSimilarity(queryVec, vec)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "iterate embeddings", err)
	}

	results := make([]memory.QueryResult, 0, len(candidates))
	for _, c := range candidates {
		m, err := s.getByHash(ctx, c.hash)
		if err != nil {
			continue
		}
		results = append(results, memory.QueryResult{
			Memory:          *m,
			SimilarityScore: c.score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", c.score),
		})
	}

	results = query.FilterByMinSimilarity(results, minSimilarity)
	results = query.SortResults(results)
	return query.Truncate(results, n), nil
}

// SearchSimilarTo returns the n nearest neighbors to the stored embedding
// of contentHash, excluding the source record itself.
func (s *Store) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error) {
	var blob []byte
	var dim int
	err := s.db.QueryRowContext(ctx, `SELECT embedding, dimension FROM memory_vectors WHERE content_hash = ?`, contentHash).Scan(&blob, &dim)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.KindNotFound, "no embedding stored for content_hash")
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "load source embedding", err)
	}
	sourceVec, err := deserializeEmbedding(blob, dim)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "deserialize source embedding", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.content_hash, v.embedding, v.dimension
		FROM memory_vectors v
		JOIN memories m ON m.content_hash = v.content_hash
		WHERE v.content_hash != ?
		ORDER BY m.created_at DESC
		LIMIT ?`, contentHash, vectorCandidateCap)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "load embeddings", err)
	}
	defer rows.Close()

	var results []memory.QueryResult
	for rows.Next() {
		var hash string
		var candidateBlob []byte
		var candidateDim int
		if err := rows.Scan(&hash, &candidateBlob, &candidateDim); err != nil {
			return nil, memerr.Wrap(memerr.KindInternal, "scan embedding", err)
		}
		vec, err := deserializeEmbedding(candidateBlob, candidateDim)
		if err != nil {
			continue
		}
		m, err := s.getByHash(ctx, hash)
		if err != nil {
			continue
		}
		score := query.CosineSimilarity(sourceVec, vec)
		results = append(results, memory.QueryResult{
			Memory:          *m,
			SimilarityScore: score,
			RelevanceReason: fmt.Sprintf("vector:%.4f", score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "iterate embeddings", err)
	}

	results = query.SortResults(results)
	return query.Truncate(results, n), nil
}

// SearchByTag returns memories matching tags; matchAll selects
// intersection (AND) vs. union (OR) semantics (I6).
func (s *Store) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	placeholders := make([]interface{}, len(tags))
	inClause := ""
	for i, t := range tags {
		if i > 0 {
			inClause += ","
		}
		inClause += "?"
		placeholders[i] = t
	}

	var sqlQuery string
	if matchAll {
		sqlQuery = `
			SELECT content_hash FROM memory_tags
			WHERE tag IN (` + inClause + `)
			GROUP BY content_hash
			HAVING COUNT(DISTINCT tag) = ?`
		placeholders = append(placeholders, len(tags))
	} else {
		sqlQuery = `SELECT DISTINCT content_hash FROM memory_tags WHERE tag IN (` + inClause + `)`
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, placeholders...)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "search by tag", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return nil, memerr.Wrap(memerr.KindInternal, "scan content_hash", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "iterate rows", err)
	}

	var out []memory.Memory
	for _, h := range hashes {
		m, err := s.getByHash(ctx, h)
		if err != nil {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

// SearchByTime returns memories with created_at in [start, end], inclusive,
// ordered by created_at descending, capped at n.
func (s *Store) SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ?`,
		float64(start.UnixNano())/1e9, float64(end.UnixNano())/1e9, n,
	)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "search by time", err)
	}
	defer rows.Close()
	return s.scanMemories(ctx, rows)
}

// BackfillMissingEmbeddings embeds every memory stored before the provider
// was ready (no matching memory_vectors row), up to limit per call.
// Retrieve calls it inline, with retrieveBackfillBatch as the limit, before
// ranking.
func (s *Store) BackfillMissingEmbeddings(ctx context.Context, limit int) (int, error) {
	if s.embedder == nil || !s.embedder.Ready() {
		return 0, memerr.New(memerr.KindBackendUnavailable, "embedding provider is not ready")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.content_hash, m.content FROM memories m
		LEFT JOIN memory_vectors v ON v.content_hash = m.content_hash
		WHERE v.content_hash IS NULL
		LIMIT ?`, limit)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindInternal, "find unembedded memories", err)
	}
	type pending struct{ hash, content string }
	var todo []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.hash, &p.content); err != nil {
			rows.Close()
			return 0, memerr.Wrap(memerr.KindInternal, "scan pending embedding", err)
		}
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, memerr.Wrap(memerr.KindInternal, "iterate pending embeddings", err)
	}

	embedded := 0
	for _, p := range todo {
		vec, err := s.embedder.Embed(ctx, p.content)
		if err != nil {
			return embedded, memerr.Wrap(memerr.KindBackendUnavailable, "embed content", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO memory_vectors (content_hash, embedding, dimension, model) VALUES (?, ?, ?, ?)`,
			p.hash, serializeEmbedding(vec), len(vec), s.embedder.Model(),
		); err != nil {
			return embedded, memerr.Wrap(memerr.KindInternal, "insert embedding", err)
		}
		embedded++
	}
	return embedded, nil
}

// getByHash loads a single memory by content_hash, hydrated with metadata
// and tags.
func (s *Store) getByHash(ctx context.Context, contentHash string) (*memory.Memory, error) {
	var m memory.Memory
	var metadataJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories WHERE content_hash = ?`, contentHash,
	).Scan(&m.ContentHash, &m.Content, &m.MemoryType, &metadataJSON, &m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.KindNotFound, "memory not found")
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "select memory", err)
	}
	if err := s.hydrate(ctx, &m, metadataJSON); err != nil {
		return nil, err
	}
	return &m, nil
}
