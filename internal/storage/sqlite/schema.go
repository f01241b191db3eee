package sqlite

// Schema is the SQLite DDL for the memories table, its FTS5 shadow index,
// and the sync triggers that keep the two consistent on every write.
//
// memories_fts indexes the id/content_text columns of memories as a
// contentless FTS5 table (content=''), so the FTS
// index carries no duplicate storage of the indexed text beyond the
// tokenized postings. Triggers maintain it on insert/update/delete so
// callers never touch memories_fts directly.
const Schema = `
CREATE TABLE IF NOT EXISTS memories (
	id               TEXT PRIMARY KEY,
	type             TEXT NOT NULL,
	content_json     TEXT NOT NULL,
	content_text     TEXT NOT NULL,
	importance       REAL NOT NULL DEFAULT 0.5,
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	last_accessed_at TIMESTAMP,
	access_count     INTEGER NOT NULL DEFAULT 0,
	tier             TEXT NOT NULL DEFAULT 'short_term',
	embedding_ref    TEXT,
	embedding_model  TEXT,
	tags_json        TEXT,
	source           TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
CREATE INDEX IF NOT EXISTS idx_memories_tier ON memories(tier);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_updated_at ON memories(updated_at);
CREATE INDEX IF NOT EXISTS idx_memories_last_accessed_at ON memories(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	content_text,
	content='',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_ai AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, id, content_text) VALUES (new.rowid, new.id, new.content_text);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_ad AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, id, content_text) VALUES('delete', old.rowid, old.id, old.content_text);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_au AFTER UPDATE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, id, content_text) VALUES('delete', old.rowid, old.id, old.content_text);
	INSERT INTO memories_fts(rowid, id, content_text) VALUES (new.rowid, new.id, new.content_text);
END;

CREATE TABLE IF NOT EXISTS vectors (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	dimension  INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection);

CREATE TABLE IF NOT EXISTS collections (
	name      TEXT PRIMARY KEY,
	dimension INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS migration_state (
	id                  INTEGER PRIMARY KEY CHECK (id = 1),
	phase               TEXT NOT NULL,
	primary_model       TEXT NOT NULL,
	secondary_model     TEXT,
	started_at          TIMESTAMP,
	migrated            INTEGER NOT NULL DEFAULT 0,
	total               INTEGER NOT NULL DEFAULT 0,
	primary_score       REAL NOT NULL DEFAULT 0,
	secondary_score     REAL NOT NULL DEFAULT 0,
	quality_samples     INTEGER NOT NULL DEFAULT 0,
	last_checkpoint     TIMESTAMP,
	last_failure_reason TEXT,
	deferred_ids_json   TEXT
);
`
