package cloud

// schemaSQL is the Postgres+pgvector schema (spec §4.6). Large-object
// spill is a cloud-only concern per the Open Questions decision in
// DESIGN.md: content over the configured threshold is truncated inline and
// written in full to a file under the large-object directory; memory_large
// records that file's path and the original length, and a
// large_content_ref pointer is left in metadata — the embedded backend, by
// contrast, always keeps content inline.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	content_hash   TEXT PRIMARY KEY,
	content        TEXT NOT NULL,
	memory_type    TEXT NOT NULL DEFAULT 'note',
	metadata       JSONB,
	created_at     DOUBLE PRECISION NOT NULL,
	created_at_iso TEXT NOT NULL,
	updated_at     DOUBLE PRECISION NOT NULL,
	updated_at_iso TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);

CREATE TABLE IF NOT EXISTS memory_tags (
	content_hash TEXT NOT NULL REFERENCES memories(content_hash) ON DELETE CASCADE,
	tag          TEXT NOT NULL,
	PRIMARY KEY (content_hash, tag)
);

CREATE INDEX IF NOT EXISTS idx_memory_tags_tag ON memory_tags(tag);

CREATE TABLE IF NOT EXISTS memory_vectors (
	content_hash TEXT PRIMARY KEY REFERENCES memories(content_hash) ON DELETE CASCADE,
	embedding    BYTEA NOT NULL,
	dimension    INTEGER NOT NULL,
	model        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_large (
	content_hash    TEXT PRIMARY KEY REFERENCES memories(content_hash) ON DELETE CASCADE,
	path            TEXT NOT NULL,
	original_length INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// pgvectorColumnSQL adds the pgvector-typed column and its ANN index, run
// only once the "vector" extension has been confirmed available — mirrors
// the teacher's two-step "BYTEA always, pgvector column when available"
// approach so a server without the extension degrades to a full scan
// instead of failing to start.
const pgvectorColumnSQL = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'memory_vectors' AND column_name = 'embedding_vec'
	) THEN
		ALTER TABLE memory_vectors ADD COLUMN embedding_vec vector;
	END IF;
END$$;

DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes WHERE indexname = 'idx_memory_vectors_cosine'
	) THEN
		IF EXISTS (SELECT 1 FROM memory_vectors LIMIT 1) THEN
			EXECUTE 'CREATE INDEX idx_memory_vectors_cosine ON memory_vectors USING ivfflat (embedding_vec vector_cosine_ops) WITH (lists = 100)';
		END IF;
	END IF;
END$$;
`
