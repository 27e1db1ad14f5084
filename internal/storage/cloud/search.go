package cloud

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/query"
	"github.com/memento-engine/memengine/pkg/memory"
)

// insertVector writes both the always-present BYTEA column and, when
// pgvector is available, the typed vector column — the same dual-write
// the teacher's postgres/embedding_provider.go performs so a later
// pgvector install can backfill the ANN index without a second pass over
// the BYTEA data.
func (s *Store) insertVector(ctx context.Context, tx *sql.Tx, contentHash string, vec []float32) error {
	model, dimension := "", len(vec)
	if s.embedder != nil {
		model = s.embedder.Model()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_vectors (content_hash, embedding, dimension, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (content_hash) DO UPDATE SET embedding = EXCLUDED.embedding, dimension = EXCLUDED.dimension, model = EXCLUDED.model`,
		contentHash, encodeVector(vec), dimension, model,
	); err != nil {
		return err
	}

	if s.pgvectorAvailable {
		if _, err := tx.ExecContext(ctx, `UPDATE memory_vectors SET embedding_vec = $1 WHERE content_hash = $2`,
			pgvector.NewVector(vec), contentHash); err != nil {
			return err
		}
	}
	return nil
}

// Retrieve embeds q and ranks candidates per I7. When pgvector is
// available the ordering and initial cut is pushed into the database via
// cosine distance; otherwise every vector is loaded and scored in Go,
// mirroring the teacher's VectorSearch fallback. A provider that is not
// ready degrades the query to an empty result set rather than failing the
// RPC (spec §4.3).
func (s *Store) Retrieve(ctx context.Context, q string, n int, minSimilarity float64) ([]memory.QueryResult, error) {
	if s.embedder == nil || !s.embedder.Ready() {
		return []memory.QueryResult{}, nil
	}
	queryVec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "embed query", err)
	}

	var results []memory.QueryResult
	err = s.withRetry(ctx, func(ctx context.Context) error {
		results = nil

		if s.pgvectorAvailable {
			rows, err := s.db.QueryContext(ctx, `
				SELECT content_hash, 1 - (embedding_vec <=> $1) FROM memory_vectors
				WHERE embedding_vec IS NOT NULL
				ORDER BY embedding_vec <=> $1 LIMIT $2`, pgvector.NewVector(queryVec), vectorCandidateCap)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var hash string
				var rawCosine float64
				if err := rows.Scan(&hash, &rawCosine); err != nil {
					return err
				}
				m, err := s.getByHash(ctx, hash)
				if err != nil {
					continue
				}
				score := (rawCosine + 1) / 2
				results = append(results, memory.QueryResult{Memory: *m, SimilarityScore: score, RelevanceReason: fmt.Sprintf("vector:%.4f", score)})
			}
			return rows.Err()
		}

		rows, err := s.db.QueryContext(ctx, `SELECT content_hash, embedding, dimension FROM memory_vectors LIMIT $1`, vectorCandidateCap)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var hash string
			var buf []byte
			var dim int
			if err := rows.Scan(&hash, &buf, &dim); err != nil {
				return err
			}
			vec, err := decodeVector(buf, dim)
			if err != nil {
				continue
			}
			score := query.CosineSimilarity(queryVec, vec)
			m, err := s.getByHash(ctx, hash)
			if err != nil {
				continue
			}
			results = append(results, memory.QueryResult{Memory: *m, SimilarityScore: score, RelevanceReason: fmt.Sprintf("vector:%.4f", score)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "retrieve", err)
	}

	results = query.FilterByMinSimilarity(results, minSimilarity)
	results = query.SortResults(results)
	return query.Truncate(results, n), nil
}

// SearchSimilarTo returns the n nearest neighbors to contentHash's stored
// embedding, excluding the source record itself.
func (s *Store) SearchSimilarTo(ctx context.Context, contentHash string, n int) ([]memory.QueryResult, error) {
	var sourceBuf []byte
	var sourceDim int
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT embedding, dimension FROM memory_vectors WHERE content_hash = $1`, contentHash).
			Scan(&sourceBuf, &sourceDim)
	})
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.KindNotFound, fmt.Sprintf("memory %q has no stored embedding", contentHash))
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "load source embedding", err)
	}
	sourceVec, err := decodeVector(sourceBuf, sourceDim)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "decode source embedding", err)
	}

	var results []memory.QueryResult
	err = s.withRetry(ctx, func(ctx context.Context) error {
		results = nil
		rows, err := s.db.QueryContext(ctx, `SELECT content_hash, embedding, dimension FROM memory_vectors WHERE content_hash != $1 LIMIT $2`, contentHash, vectorCandidateCap)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var hash string
			var buf []byte
			var dim int
			if err := rows.Scan(&hash, &buf, &dim); err != nil {
				return err
			}
			vec, err := decodeVector(buf, dim)
			if err != nil {
				continue
			}
			score := query.CosineSimilarity(sourceVec, vec)
			m, err := s.getByHash(ctx, hash)
			if err != nil {
				continue
			}
			results = append(results, memory.QueryResult{Memory: *m, SimilarityScore: score, RelevanceReason: fmt.Sprintf("vector:%.4f", score)})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "search similar", err)
	}

	return query.Truncate(query.SortResults(results), n), nil
}

// SearchByTag returns memories matching tags; matchAll selects
// intersection vs. union semantics (I6).
func (s *Store) SearchByTag(ctx context.Context, tags []string, matchAll bool) ([]memory.Memory, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	args := make([]interface{}, len(tags))
	placeholders := ""
	for i, t := range tags {
		args[i] = t
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}

	var sqlStr string
	if matchAll {
		sqlStr = fmt.Sprintf(`
			SELECT content_hash FROM memory_tags WHERE tag IN (%s)
			GROUP BY content_hash HAVING COUNT(DISTINCT tag) = %d`, placeholders, len(tags))
	} else {
		sqlStr = fmt.Sprintf(`SELECT DISTINCT content_hash FROM memory_tags WHERE tag IN (%s)`, placeholders)
	}

	var hashes []string
	err := s.withRetry(ctx, func(ctx context.Context) error {
		hashes = nil
		rows, err := s.db.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				return err
			}
			hashes = append(hashes, h)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "search by tag", err)
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

// SearchByTime returns memories with created_at in [start, end], ordered
// descending, capped at n.
func (s *Store) SearchByTime(ctx context.Context, start, end time.Time, n int) ([]memory.Memory, error) {
	var out []memory.Memory
	err := s.withRetry(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
			FROM memories WHERE created_at BETWEEN $1 AND $2 ORDER BY created_at DESC LIMIT $3`,
			float64(start.UnixNano())/1e9, float64(end.UnixNano())/1e9, n)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = s.scanMemories(ctx, rows)
		return err
	})
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "search by time", err)
	}
	return out, nil
}

func (s *Store) getByHash(ctx context.Context, contentHash string) (*memory.Memory, error) {
	var m memory.Memory
	var metadataJSON sql.NullString
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
			FROM memories WHERE content_hash = $1`, contentHash,
		).Scan(&m.ContentHash, &m.Content, &m.MemoryType, &metadataJSON, &m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO)
	})
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.KindNotFound, fmt.Sprintf("memory %q not found", contentHash))
	}
	if err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "get memory", err)
	}

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := unmarshalMetadata(metadataJSON.String, &m); err != nil {
			return nil, err
		}
	}
	if err := restoreSpilled(&m); err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "read large object", err)
	}
	if err := s.loadTags(ctx, &m); err != nil {
		return nil, memerr.Wrap(memerr.KindBackendUnavailable, "load tags", err)
	}
	return &m, nil
}

// restoreSpilled replaces m.Content with the full spilled content when
// metadata carries a large_content_ref pointer.
func restoreSpilled(m *memory.Memory) error {
	ref, ok := m.Metadata[memory.MetaLargeContentRef].(string)
	if !ok || ref == "" {
		return nil
	}
	full, err := readSpilled(ref)
	if err != nil {
		return err
	}
	m.Content = full
	return nil
}

const vectorCandidateCap = 10_000
