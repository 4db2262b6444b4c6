package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Source document registry with hash-based change detection
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    filename TEXT NOT NULL,
    format TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    parse_method TEXT NOT NULL,
    status TEXT DEFAULT 'pending',
    chunk_count INTEGER DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per extraction pass over a document (or ad-hoc text)
CREATE TABLE IF NOT EXISTS extraction_runs (
    id INTEGER PRIMARY KEY,
    document_id INTEGER REFERENCES documents(id) ON DELETE CASCADE,
    chunks INTEGER NOT NULL,
    failed_chunks INTEGER NOT NULL,
    created INTEGER NOT NULL,
    updated INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    warnings INTEGER NOT NULL,
    rejections INTEGER NOT NULL,
    error TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Serialized schema outputs, one row per export
CREATE TABLE IF NOT EXISTS schema_snapshots (
    id INTEGER PRIMARY KEY,
    namespace TEXT NOT NULL,
    format TEXT NOT NULL,
    content TEXT NOT NULL,
    entity_count INTEGER NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Entity rows mirrored from the in-memory graph
CREATE TABLE IF NOT EXISTS entities (
    id INTEGER PRIMARY KEY,
    key TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    kind TEXT NOT NULL,
    description TEXT,
    auto_created INTEGER DEFAULT 0,
    property_count INTEGER DEFAULT 0,
    relation_count INTEGER DEFAULT 0
);

-- Vector embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
    entity_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Full-text search via FTS5
CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    key,
    display_name,
    description,
    content='entities',
    content_rowid='id',
    tokenize='unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS entities_ai AFTER INSERT ON entities BEGIN
    INSERT INTO entities_fts(rowid, key, display_name, description)
    VALUES (new.id, new.key, new.display_name, new.description);
END;
CREATE TRIGGER IF NOT EXISTS entities_ad AFTER DELETE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, key, display_name, description)
    VALUES ('delete', old.id, old.key, old.display_name, old.description);
END;
CREATE TRIGGER IF NOT EXISTS entities_au AFTER UPDATE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, key, display_name, description)
    VALUES ('delete', old.id, old.key, old.display_name, old.description);
    INSERT INTO entities_fts(rowid, key, display_name, description)
    VALUES (new.id, new.key, new.display_name, new.description);
END;

-- Indexes
CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(content_hash);
CREATE INDEX IF NOT EXISTS idx_runs_document ON extraction_runs(document_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_namespace ON schema_snapshots(namespace, format);
CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
`, embeddingDim)
}
