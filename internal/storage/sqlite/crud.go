package sqlite

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

// Store upserts m. A pre-existing content_hash is a no-op success (I1):
// Store never overwrites content or embeddings for a hash that already
// exists, since content-addressing means the content could not have
// changed (P1).
func (s *Store) Store(ctx context.Context, m *memory.Memory) (bool, string, error) {
	if m == nil || m.ContentHash == "" {
		return false, "", memerr.New(memerr.KindInvalidInput, "memory and content_hash are required")
	}
	if s.dimensionMismatch {
		return false, "", memerr.New(memerr.KindDimensionMismatch, "stored embeddings disagree with the provider's dimension; writes are refused until reconciled")
	}

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE content_hash = ?`, m.ContentHash).Scan(&exists); err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "check existing memory", err)
	}
	if exists > 0 {
		return false, "memory already exists", nil
	}

	metadata := m.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "marshal metadata", err)
	}

	if m.CreatedAt == 0 {
		m.CreatedAt, m.CreatedAtISO = identity.Stamp()
		m.UpdatedAt, m.UpdatedAtISO = m.CreatedAt, m.CreatedAtISO
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ContentHash, m.Content, m.MemoryType, string(metadataJSON),
		m.CreatedAt, m.CreatedAtISO, m.UpdatedAt, m.UpdatedAtISO,
	)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "insert memory", err)
	}

	for _, tag := range m.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags (content_hash, tag) VALUES (?, ?)`, m.ContentHash, tag); err != nil {
			return false, "", memerr.Wrap(memerr.KindInternal, "insert tag", err)
		}
	}

	if s.embedder != nil && s.embedder.Ready() {
		vec, err := s.embedder.Embed(ctx, m.Content)
		if err != nil {
			return false, "", memerr.Wrap(memerr.KindBackendUnavailable, "embed content", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_vectors (content_hash, embedding, dimension, model) VALUES (?, ?, ?, ?)`,
			m.ContentHash, serializeEmbedding(vec), len(vec), s.embedder.Model(),
		); err != nil {
			return false, "", memerr.Wrap(memerr.KindInternal, "insert embedding", err)
		}
		m.Embedding = vec
	}

	if err := tx.Commit(); err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "commit transaction", err)
	}

	return true, "memory stored", nil
}

// Delete removes the memory and its tags/vectors (FK cascade).
func (s *Store) Delete(ctx context.Context, contentHash string) (bool, string, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE content_hash = ?`, contentHash)
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "delete memory", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, "", memerr.Wrap(memerr.KindInternal, "rows affected", err)
	}
	if n == 0 {
		return false, "memory not found", nil
	}
	return true, "memory deleted", nil
}

// DeleteByTag removes every memory carrying tag.
func (s *Store) DeleteByTag(ctx context.Context, tag string, detail bool) (int, []string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash FROM memory_tags WHERE tag = ?`, tag)
	if err != nil {
		return 0, nil, memerr.Wrap(memerr.KindInternal, "select by tag", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return 0, nil, memerr.Wrap(memerr.KindInternal, "scan content_hash", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, nil, memerr.Wrap(memerr.KindInternal, "iterate rows", err)
	}

	for _, h := range hashes {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE content_hash = ?`, h); err != nil {
			return 0, nil, memerr.Wrap(memerr.KindInternal, "delete memory", err)
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
	err := s.db.QueryRowContext(ctx, `SELECT metadata FROM memories WHERE content_hash = ?`, contentHash).Scan(&metadataJSON)
	if err == sql.ErrNoRows {
		return memerr.New(memerr.KindNotFound, fmt.Sprintf("memory %q not found", contentHash))
	}
	if err != nil {
		return memerr.Wrap(memerr.KindInternal, "select memory", err)
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memerr.Wrap(memerr.KindInternal, "begin transaction", err)
	}
	defer tx.Rollback()

	if patch.MemoryType != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET metadata = ?, memory_type = ?, updated_at = ?, updated_at_iso = ? WHERE content_hash = ?`,
			string(newMetadataJSON), *patch.MemoryType, updatedAt, updatedAtISO, contentHash); err != nil {
			return memerr.Wrap(memerr.KindInternal, "update memory", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET metadata = ?, updated_at = ?, updated_at_iso = ? WHERE content_hash = ?`,
			string(newMetadataJSON), updatedAt, updatedAtISO, contentHash); err != nil {
			return memerr.Wrap(memerr.KindInternal, "update memory", err)
		}
	}

	if patch.Tags != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memory_tags WHERE content_hash = ?`, contentHash); err != nil {
			return memerr.Wrap(memerr.KindInternal, "clear tags", err)
		}
		for _, tag := range memory.NormalizeTags(patch.Tags) {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO memory_tags (content_hash, tag) VALUES (?, ?)`, contentHash, tag); err != nil {
				return memerr.Wrap(memerr.KindInternal, "insert tag", err)
			}
		}
	}

	return tx.Commit()
}

// CleanupDuplicates merges rows sharing a content_hash. Under I1 this
// should never happen through normal Store calls (content_hash is the
// primary key), but can arise from an external bulk import that bypassed
// Store; this is a defensive repair pass, not a path exercised in
// ordinary operation.
func (s *Store) CleanupDuplicates(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, COUNT(*) c FROM memories GROUP BY content_hash HAVING c > 1`)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindInternal, "find duplicates", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		var c int
		if err := rows.Scan(&h, &c); err != nil {
			rows.Close()
			return 0, memerr.Wrap(memerr.KindInternal, "scan duplicate", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()

	removed := 0
	for _, h := range hashes {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM memories WHERE content_hash = ? AND rowid NOT IN (
				SELECT rowid FROM memories WHERE content_hash = ? ORDER BY created_at ASC, rowid ASC LIMIT 1
			)`, h, h)
		if err != nil {
			return removed, memerr.Wrap(memerr.KindInternal, "delete duplicate", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, memerr.Wrap(memerr.KindInternal, "rows affected", err)
		}
		removed += int(n)
	}
	return removed, nil
}

// GetStats returns the uniform stats/health shape.
func (s *Store) GetStats(ctx context.Context) (storage.Stats, error) {
	var total, tags int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&total); err != nil {
		return storage.Stats{}, memerr.Wrap(memerr.KindInternal, "count memories", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT tag) FROM memory_tags`).Scan(&tags); err != nil {
		return storage.Stats{}, memerr.Wrap(memerr.KindInternal, "count tags", err)
	}

	model, dimension := "", 0
	if s.embedder != nil {
		model, dimension = s.embedder.Model(), s.embedder.Dimension()
	}

	var details map[string]interface{}
	if s.dimensionMismatch {
		details = map[string]interface{}{"error": string(memerr.KindDimensionMismatch)}
	}

	return storage.Stats{
		Backend:            "embedded",
		StorageType:        "sqlite",
		TotalMemories:      total,
		TotalTags:          tags,
		StorageSize:        "", // not computed by this backend
		EmbeddingModel:     model,
		EmbeddingDimension: dimension,
		Healthy:            !s.dimensionMismatch,
		Details:            details,
	}, nil
}

// List returns a page of memories ordered by created_at descending.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) (storage.PaginatedResult[memory.Memory], error) {
	opts.Normalize()

	where := "WHERE 1=1"
	var args []interface{}
	if opts.MemoryType != "" {
		where += " AND memory_type = ?"
		args = append(args, opts.MemoryType)
	}
	if opts.Tag != "" {
		where += " AND content_hash IN (SELECT content_hash FROM memory_tags WHERE tag = ?)"
		args = append(args, opts.Tag)
	}

	var total int
	countArgs := append([]interface{}{}, args...)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories `+where, countArgs...).Scan(&total); err != nil {
		return storage.PaginatedResult[memory.Memory]{}, memerr.Wrap(memerr.KindInternal, "count memories", err)
	}

	queryArgs := append(args, opts.PageSize, opts.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT content_hash, content, memory_type, metadata, created_at, created_at_iso, updated_at, updated_at_iso
		FROM memories %s ORDER BY %s DESC LIMIT ? OFFSET ?`, where, allowedListSortField(opts)), queryArgs...)
	if err != nil {
		return storage.PaginatedResult[memory.Memory]{}, memerr.Wrap(memerr.KindInternal, "list memories", err)
	}
	defer rows.Close()

	items, err := s.scanMemories(ctx, rows)
	if err != nil {
		return storage.PaginatedResult[memory.Memory]{}, err
	}

	return storage.PaginatedResult[memory.Memory]{
		Items:    items,
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.PageSize,
		HasMore:  opts.Offset()+len(items) < total,
	}, nil
}

// allowedListSortField returns the whitelisted ORDER BY column; List never
// builds this clause from caller-supplied field names, only from this
// function, which mirrors storage.ListOptions' own sort-field whitelist.
func allowedListSortField(storage.ListOptions) string {
	return "created_at"
}

// scanMemories reads rows into Memory values, resolving metadata and tags
// for each.
func (s *Store) scanMemories(ctx context.Context, rows *sql.Rows) ([]memory.Memory, error) {
	var out []memory.Memory
	for rows.Next() {
		var m memory.Memory
		var metadataJSON sql.NullString
		if err := rows.Scan(&m.ContentHash, &m.Content, &m.MemoryType, &metadataJSON, &m.CreatedAt, &m.CreatedAtISO, &m.UpdatedAt, &m.UpdatedAtISO); err != nil {
			return nil, memerr.Wrap(memerr.KindInternal, "scan memory", err)
		}
		if err := s.hydrate(ctx, &m, metadataJSON); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, memerr.Wrap(memerr.KindInternal, "iterate memories", err)
	}
	return out, nil
}

// hydrate fills in Metadata and Tags for m.
func (s *Store) hydrate(ctx context.Context, m *memory.Memory, metadataJSON sql.NullString) error {
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &m.Metadata); err != nil {
			return memerr.Wrap(memerr.KindInternal, "unmarshal metadata", err)
		}
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT tag FROM memory_tags WHERE content_hash = ?`, m.ContentHash)
	if err != nil {
		return memerr.Wrap(memerr.KindInternal, "select tags", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return memerr.Wrap(memerr.KindInternal, "scan tag", err)
		}
		m.Tags = append(m.Tags, tag)
	}
	return tagRows.Err()
}
