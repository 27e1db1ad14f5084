package cloud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/memento-engine/memengine/internal/identity"
	"github.com/memento-engine/memengine/internal/memerr"
	"github.com/memento-engine/memengine/internal/storage"
	"github.com/memento-engine/memengine/pkg/memory"
)

var _ storage.Backend = (*Store)(nil)

// Store upserts m. A pre-existing content_hash is a no-op success (I1).
func (s *Store) Store(ctx context.Context, m *memory.Memory) (bool, string, error) {
	if m == nil || m.ContentHash == "" {
		return false, "", memerr.New(memerr.KindInvalidInput, "memory and content_hash are required")
	}

	var exists int
	if err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE content_hash = $1`, m.ContentHash).Scan(&exists)
	}); err != nil {
		return false, "", memerr.Wrap(memerr.KindBackendUnavailable, "check existing memory", err)
	}
	if exists > 0 {
		return false, "memory already exists", nil
	}

	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	// Spec §4.6 write order: (a) upload large-object if needed, (b)
	// insert relational row, (c) upsert vector.
	storedContent := m.Content
	path, spilled, err := s.spillContent(m.ContentHash, m.Content)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "spill large content", err)
	}
	if spilled {
		metadata[memory.MetaLargeContentRef] = path
		metadata[memory.MetaOriginalLength] = len(m.Content)
		storedContent = m.Content[:s.largeThreshold]
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "marshal metadata", err)
	}

	if m.CreatedAt == 0 {
		m.CreatedAt, m.CreatedAtISO = identity.Stamp()
		m.UpdatedAt, m.UpdatedAtISO = m.CreatedAt, m.CreatedAtISO
	}

	err = s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			m.ContentHash, storedContent, m.MemoryType, string(metadataJSON),
			m.CreatedAt, m.CreatedAtISO, m.UpdatedAt, m.UpdatedAtISO,
		); err != nil {
			return err
		}

		if spilled {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memory_large (content_hash, path, original_length) VALUES ($1, $2, $3)`,
				m.ContentHash, path, len(m.Content),
			); err != nil {
				return err
			}
		}

		for _, tag := range m.Tags {
			if _, err := tx.ExecContext(ctx, `INSERT INTO memory_tags (content_hash, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`, m.ContentHash, tag); err != nil {
				return err
			}
		}

		if s.embedder != nil && s.embedder.Ready() {
			vec, err := s.embedder.Embed(ctx, m.Content)
			if err != nil {
				return err
			}
			if err := s.insertVector(ctx, tx, m.ContentHash, vec); err != nil {
				return err
			}
			m.Embedding = vec
		}

		return tx.Commit()
	})
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindBackendUnavailable, "store memory", err)
	}

	return true, "memory stored", nil
}

// Delete removes the memory and its tags/vectors (FK cascade).
func (s *Store) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	var n int64
	err := s.withRetry(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE content_hash = $1`, contentHash)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindBackendUnavailable, "delete memory", err)
	}
	if n == 0 {
		return false, "memory not found", nil
	}
	return true, "memory deleted", nil
}

// DeleteByTag removes every memory carrying tag.
func (s *Store) DeleteByTag(ctx context.Context, tag string, detail bool) (int, []string, error) {
	var hashes []string
	err := s.withRetry(ctx, func(ctx context.Context) error {
		hashes = nil
		rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM memory_tags WHERE tag = $1`, tag)
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
		return 0, nil, memerr.Wrap(memerr.KindBackendUnavailable, "select by tag", err)
	}

	for _, h := range hashes {
		if err := s.withRetry(ctx, func(ctx context.Context) error {
			_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE content_hash = $1`, h)
			return err
		}); err != nil {
			return 0, nil, memerr.Wrap(memerr.KindBackendUnavailable, "delete memory", err)
		}
	}

	if !detail {
		return len(hashes), nil, nil
	}
	return len(hashes), hashes, nil
}

// UpdateMetadata applies patch to the memory identified by contentHash.
func (s *Store) UpdateMetadata(ctx context.Context, contentHash string, patch storage.MetadataPatch) error {
	var metadataJSON sql.NullString
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT metadata FROM memories WHERE content_hash = $1`, contentHash).Scan(&metadataJSON)
	})
	if err == sql.ErrNoRows {
		return memerr.New(memerr.KindNotFound, fmt.Sprintf("memory %q not found", contentHash))
	}
	if err != nil {
		return memerr.Wrap(memerr.KindBackendUnavailable, "select memory", err)
	}

	metadata := map[string]interface{}{}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &metadata); err != nil {
			return memerr.Wrap(memerr.KindInternal, "unmarshal metadata", err)
		}
	}
	for k, v := range patch.Metadata {
		metadata[k] = v
	}
	newMetadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return memerr.Wrap(memerr.KindInternal, "marshal metadata", err)
	}

	updatedAt, updatedAtISO := identity.Stamp()

	return s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if patch.MemoryType != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE memories SET metadata = $1, memory_type = $2, updated_at = $3, updated_at_iso = $4 WHERE content_hash = $5`,
				string(newMetadataJSON), *patch.MemoryType, updatedAt, updatedAtISO, contentHash); err != nil {
				return err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE memories SET metadata = $1, updated_at = $2, updated_at_iso = $3 WHERE content_hash = $4`,
				string(newMetadataJSON), updatedAt, updatedAtISO, contentHash); err != nil {
				return err
			}
		}

		if patch.Tags != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE content_hash = $1`, contentHash); err != nil {
				return err
			}
			for _, tag := range memory.NormalizeTags(patch.Tags) {
				if _, err := tx.ExecContext(ctx, `INSERT INTO memory_tags (content_hash, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`, contentHash, tag); err != nil {
					return err
				}
			}
		}

		return tx.Commit()
	})
}

// CleanupDuplicates merges rows sharing a content_hash — a defensive
// repair pass for data that entered the table outside of Store (e.g. a
// bulk restore), since content_hash is the primary key under normal
// operation.
func (s *Store) CleanupDuplicates(ctx context.Context) (int, error) {
	var removed int
	err := s.withRetry(ctx, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM memories a USING memories b
			WHERE a.content_hash = b.content_hash AND (a.created_at > b.created_at OR (a.created_at = b.created_at AND a.ctid > b.ctid))`)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = int(n)
		return err
	})
	if err != nil {
		return 0, memerr.Wrap(memerr.KindBackendUnavailable, "cleanup duplicates", err)
	}
	return removed, nil
}

// GetStats returns the uniform stats/health shape.
func (s *Store) GetStats(ctx context.Context) (storage.Stats, error) {
	var total, tags int
	err := s.withRetry(ctx, func(ctx context.Context) error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
			return err
		}
		return s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM memory_tags`).Scan(&tags)
	})
	if err != nil {
		return storage.Stats{}, memerr.Wrap(memerr.KindBackendUnavailable, "get stats", err)
	}

	model, dimension := "", 0
	if s.embedder != nil {
		model, dimension = s.embedder.Model(), s.embedder.Dimension()
	}

	return storage.Stats{
		Backend:            "cloud",
		StorageType:        "postgres",
		TotalMemories:      total,
		TotalTags:          tags,
		EmbeddingModel:     model,
		EmbeddingDimension: dimension,
		Healthy:            true,
		Details: map[string]interface{}{
			"pgvector_available": s.pgvectorAvailable,
		},
	}, nil
}

// List returns a page of memories ordered by created_at descending.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (storage.PaginatedResult[memory.Memory], error) {
	opts.Normalize()

	where := "WHERE 1=1"
	var args []interface{}
	if opts.MemoryType != "" {
		args = append(args, opts.MemoryType)
		where += fmt.Sprintf(" AND memory_type = $%d", len(args))
	}
	if opts.Tag != "" {
		args = append(args, opts.Tag)
		where += fmt.Sprintf(" AND content_hash IN (SELECT content_hash FROM memory_tags WHERE tag = $%d)", len(args))
	}

	var total int
	var items []memory.Memory
	err := s.withRetry(ctx, func(ctx context.Context) error {
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories `+where, args...).Scan(&total); err != nil {
			return err
		}

		pageArgs := append(append([]interface{}{}, args...), opts.PageSize, opts.Offset())
		rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
			FROM memories %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(pageArgs)-1, len(pageArgs)), pageArgs...)
		if err != nil {
			return err
		}
		defer rows.Close()

		items, err = s.scanMemories(ctx, rows)
		return err
	})
	if err != nil {
		return storage.PaginatedResult[memory.Memory]{}, memerr.Wrap(memerr.KindBackendUnavailable, "list memories", err)
	}

	return storage.PaginatedResult[memory.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

func (s *Store) scanMemories(ctx context.Context, rows *sql.Rows) ([]memory.Memory, error) {
	var out []memory.Memory
	for rows.Next() {
		var m memory.Memory
		var metadataJSON sql.NullString
		if err := rows.Scan(&m.ContentHash, &m.Content, &m.MemoryType, &metadataJSON, &m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
				return nil, err
			}
		}
		if err := restoreSpilled(&m); err != nil {
			return nil, err
		}
		if err := s.loadTags(ctx, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) loadTags(ctx context.Context, m *memory.Memory) error {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE content_hash = $1`, m.ContentHash)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return err
		}
		m.Tags = append(m.Tags, tag)
	}
	return rows.Err()
}
