package sqlite

// schemaSQL creates the tables the embedded backend needs (spec §4.5):
// memories (the canonical record, content-addressed by content_hash),
// memory_tags (one row per tag, supporting both union and intersection
// tag search), memory_vectors (the embedding BLOB, keyed directly on
// content_hash rather than through a separate rowid-mapping table — a
// simplification the spec's abstract "vector side-table" description
// permits since SQLite can index content_hash directly), and settings
// (read by internal/config). Large-object spill is a cloud-backend-only
// concern per the Open Questions decision in DESIGN.md; the embedded
// backend always keeps content inline.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	content_hash TEXT PRIMARY KEY,
	content      TEXT NOT NULL,
	memory_type  TEXT NOT NULL DEFAULT 'note',
	metadata     TEXT,
	created_at   REAL NOT NULL,
	created_at_iso TEXT NOT NULL,
	updated_at   REAL NOT NULL,
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
	embedding    BLOB NOT NULL,
	dimension    INTEGER NOT NULL,
	model        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
