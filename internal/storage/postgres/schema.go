// Package postgres provides a PostgreSQL implementation of the storage
// contracts, backed by pgvector for the vector index and tsvector/ts_rank
// for the lexical index.
package postgres

// Schema creates the memories table, the dual-collection vector/lexical
// tables, and the migration-state singleton row.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	content_json     JSONB NOT NULL,
	content_text     TEXT NOT NULL,
	importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL,
	last_accessed_at TIMESTAMPTZ,
	access_count     INTEGER NOT NULL DEFAULT 0,
	tier             TEXT NOT NULL DEFAULT 'short_term',
	embedding_ref    TEXT,
	embedding_model  TEXT,
	tags             JSONB,
	source           TEXT NOT NULL DEFAULT '',
	content_tsv      TSVECTOR
);

CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);
CREATE INDEX IF NOT EXISTS idx_memories_content_tsv ON memories USING GIN(content_tsv);

CREATE OR REPLACE FUNCTION memories_tsv_update() RETURNS TRIGGER AS $$
BEGIN
	NEW.content_tsv := to_tsvector('english', COALESCE(NEW.content_text, ''));
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS memories_tsv_trigger ON memories;
CREATE TRIGGER memories_tsv_trigger
	BEFORE INSERT OR UPDATE OF content_text
	ON memories
	FOR EACH ROW
	EXECUTE FUNCTION memories_tsv_update();

CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vectors (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	embedding  BYTEA NOT NULL,
	dimension  INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS migration_state (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	phase               TEXT NOT NULL,
	primary_model       TEXT NOT NULL,
	secondary_model     TEXT,
	started_at          TIMESTAMPTZ,
	migrated            INTEGER NOT NULL DEFAULT 0,
	total               INTEGER NOT NULL DEFAULT 0,
	primary_score       DOUBLE PRECISION NOT NULL DEFAULT 0,
	secondary_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_samples     INTEGER NOT NULL DEFAULT 0,
	last_checkpoint     TIMESTAMPTZ,
	last_failure_reason TEXT,
	deferred_ids_json   JSONB
);
`

// MigrationPgvector adds the pgvector embedding_vec column to vectors if it
// is missing; it creates no ANN index. Safe to run multiple times.
const MigrationPgvector = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'vectors' AND column_name = 'embedding_vec'
	) THEN
		ALTER TABLE vectors ADD COLUMN embedding_vec vector;
	END IF;
END
$$;
`
