// Package store persists pipeline state in SQLite: source documents,
// extraction runs, schema snapshots and a mirror of the entity graph
// with optional vector embeddings.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Document represents a row in the documents table.
type Document struct {
	ID          int64  `json:"id"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	ContentHash string `json:"content_hash"`
	ParseMethod string `json:"parse_method"`
	Status      string `json:"status"`
	ChunkCount  int    `json:"chunk_count"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// ExtractionRun records the outcome of one extraction pass.
type ExtractionRun struct {
	ID           int64  `json:"id"`
	DocumentID   *int64 `json:"document_id,omitempty"`
	Chunks       int    `json:"chunks"`
	FailedChunks int    `json:"failed_chunks"`
	Created      int    `json:"created"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Warnings     int    `json:"warnings"`
	Rejections   int    `json:"rejections"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// Snapshot is a serialized schema output stored for history.
type Snapshot struct {
	ID          int64  `json:"id"`
	Namespace   string `json:"namespace"`
	Format      string `json:"format"` // "openspg", "json" or "yaml"
	Content     string `json:"content"`
	EntityCount int    `json:"entity_count"`
	CreatedAt   string `json:"created_at"`
}

// Entity is a row mirrored from the in-memory schema graph.
type Entity struct {
	ID            int64  `json:"id"`
	Key           string `json:"key"`
	DisplayName   string `json:"display_name"`
	Kind          string `json:"kind"`
	Description   string `json:"description"`
	AutoCreated   bool   `json:"auto_created"`
	PropertyCount int    `json:"property_count"`
	RelationCount int    `json:"relation_count"`
}

// EntityMatch is an entity with its search score.
type EntityMatch struct {
	Entity
	Score float64 `json:"score"`
}

// Store wraps the SQLite database for all persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// ContentHash returns the SHA-256 hex digest used for change detection.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// --- Document operations ---

// UpsertDocument inserts or updates a document record. Returns the document ID.
func (s *Store) UpsertDocument(ctx context.Context, doc Document) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, filename, format, content_hash, parse_method, status, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			format = excluded.format,
			content_hash = excluded.content_hash,
			parse_method = excluded.parse_method,
			status = excluded.status,
			chunk_count = excluded.chunk_count,
			updated_at = CURRENT_TIMESTAMP
	`, doc.Path, doc.Filename, doc.Format, doc.ContentHash, doc.ParseMethod, doc.Status, doc.ChunkCount)
	if err != nil {
		return 0, err
	}

	// LastInsertId is unreliable after an ON CONFLICT update on a pooled
	// connection; the path is unique, so look the row up directly.
	var id int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM documents WHERE path = ?", doc.Path).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// GetDocumentByPath retrieves a document by its file path.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*Document, error) {
	doc := &Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, path, filename, format, content_hash, parse_method, status, chunk_count, created_at, updated_at
		FROM documents WHERE path = ?
	`, path).Scan(&doc.ID, &doc.Path, &doc.Filename, &doc.Format,
		&doc.ContentHash, &doc.ParseMethod, &doc.Status, &doc.ChunkCount,
		&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, filename, format, content_hash, parse_method, status, chunk_count, created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Path, &d.Filename, &d.Format,
			&d.ContentHash, &d.ParseMethod, &d.Status, &d.ChunkCount,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates just the status field.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE documents SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		status, id)
	return err
}

// DeleteDocument removes a document and its extraction runs.
func (s *Store) DeleteDocument(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM extraction_runs WHERE document_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
		return err
	})
}

// --- Extraction run operations ---

// LogExtractionRun records one extraction pass. Returns the run ID.
func (s *Store) LogExtractionRun(ctx context.Context, run ExtractionRun) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO extraction_runs (document_id, chunks, failed_chunks, created, updated, skipped, warnings, rejections, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.DocumentID, run.Chunks, run.FailedChunks, run.Created, run.Updated,
		run.Skipped, run.Warnings, run.Rejections, run.Error)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListExtractionRuns returns the most recent runs, newest first.
func (s *Store) ListExtractionRuns(ctx context.Context, limit int) ([]ExtractionRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunks, failed_chunks, created, updated, skipped, warnings, rejections, error, created_at
		FROM extraction_runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ExtractionRun
	for rows.Next() {
		var r ExtractionRun
		var docID sql.NullInt64
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &docID, &r.Chunks, &r.FailedChunks,
			&r.Created, &r.Updated, &r.Skipped, &r.Warnings, &r.Rejections,
			&errMsg, &r.CreatedAt); err != nil {
			return nil, err
		}
		if docID.Valid {
			r.DocumentID = &docID.Int64
		}
		r.Error = errMsg.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Snapshot operations ---

// SaveSnapshot stores a serialized schema. Returns the snapshot ID.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_snapshots (namespace, format, content, entity_count)
		VALUES (?, ?, ?, ?)
	`, snap.Namespace, snap.Format, snap.Content, snap.EntityCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestSnapshot returns the most recent snapshot in the given format,
// or sql.ErrNoRows when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, namespace, format string) (*Snapshot, error) {
	snap := &Snapshot{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, format, content, entity_count, created_at
		FROM schema_snapshots
		WHERE namespace = ? AND format = ?
		ORDER BY id DESC LIMIT 1
	`, namespace, format).Scan(&snap.ID, &snap.Namespace, &snap.Format,
		&snap.Content, &snap.EntityCount, &snap.CreatedAt)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ListSnapshots returns snapshot metadata without content, newest first.
func (s *Store) ListSnapshots(ctx context.Context, namespace string, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, format, entity_count, created_at
		FROM schema_snapshots
		WHERE namespace = ?
		ORDER BY id DESC LIMIT ?
	`, namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Namespace, &snap.Format,
			&snap.EntityCount, &snap.CreatedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// --- Entity mirror operations ---

// ReplaceEntities replaces the entity mirror with the given rows. Embeddings
// for keys that survive the swap are kept; orphaned embeddings are removed.
func (s *Store) ReplaceEntities(ctx context.Context, entities []Entity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// Remember old key -> id so surviving embeddings can be re-linked.
		oldIDs := make(map[string]int64)
		rows, err := tx.QueryContext(ctx, "SELECT key, id FROM entities")
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			var id int64
			if err := rows.Scan(&key, &id); err != nil {
				rows.Close()
				return err
			}
			oldIDs[key] = id
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM entities"); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entities (key, display_name, kind, description, auto_created, property_count, relation_count)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		kept := make(map[int64]int64) // old id -> new id
		for _, e := range entities {
			res, err := stmt.ExecContext(ctx, e.Key, e.DisplayName, e.Kind,
				e.Description, e.AutoCreated, e.PropertyCount, e.RelationCount)
			if err != nil {
				return err
			}
			newID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if oldID, ok := oldIDs[e.Key]; ok {
				kept[oldID] = newID
			}
		}

		// Re-link surviving embeddings and drop the rest.
		embRows, err := tx.QueryContext(ctx, "SELECT entity_id, embedding FROM vec_entities")
		if err != nil {
			return err
		}
		type emb struct {
			oldID int64
			data  []byte
		}
		var embs []emb
		for embRows.Next() {
			var e emb
			if err := embRows.Scan(&e.oldID, &e.data); err != nil {
				embRows.Close()
				return err
			}
			embs = append(embs, e)
		}
		embRows.Close()
		if err := embRows.Err(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_entities"); err != nil {
			return err
		}
		for _, e := range embs {
			newID, ok := kept[e.oldID]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
				newID, e.data); err != nil {
				return err
			}
		}
		return nil
	})
}

// AllEntities returns the full entity mirror ordered by key.
func (s *Store) AllEntities(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, display_name, kind, description, auto_created, property_count, relation_count
		FROM entities ORDER BY key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// GetEntityByKey retrieves one mirrored entity, or sql.ErrNoRows.
func (s *Store) GetEntityByKey(ctx context.Context, key string) (*Entity, error) {
	e := &Entity{}
	var desc sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, display_name, kind, description, auto_created, property_count, relation_count
		FROM entities WHERE key = ?
	`, key).Scan(&e.ID, &e.Key, &e.DisplayName, &e.Kind, &desc,
		&e.AutoCreated, &e.PropertyCount, &e.RelationCount)
	if err != nil {
		return nil, err
	}
	e.Description = desc.String
	return e, nil
}

// EntitiesWithoutEmbedding returns mirrored entities with no vector yet.
func (s *Store) EntitiesWithoutEmbedding(ctx context.Context) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.key, e.display_name, e.kind, e.description, e.auto_created, e.property_count, e.relation_count
		FROM entities e
		LEFT JOIN vec_entities v ON v.entity_id = e.id
		WHERE v.entity_id IS NULL
		ORDER BY e.key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntities(rows)
}

// UpsertEntityEmbedding stores the embedding vector for an entity.
func (s *Store) UpsertEntityEmbedding(ctx context.Context, entityID int64, embedding []float32) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(embedding), s.embeddingDim)
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM vec_entities WHERE entity_id = ?", entityID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO vec_entities (entity_id, embedding) VALUES (?, ?)",
		entityID, serializeFloat32(embedding))
	return err
}

// SemanticSearchEntities performs a KNN search over entity embeddings.
func (s *Store) SemanticSearchEntities(ctx context.Context, queryEmbedding []float32, k int) ([]EntityMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.entity_id, v.distance,
			e.key, e.display_name, e.kind, e.description, e.auto_created, e.property_count, e.relation_count
		FROM vec_entities v
		JOIN entities e ON e.id = v.entity_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []EntityMatch
	for rows.Next() {
		var m EntityMatch
		var distance float64
		var desc sql.NullString
		if err := rows.Scan(&m.ID, &distance, &m.Key, &m.DisplayName, &m.Kind,
			&desc, &m.AutoCreated, &m.PropertyCount, &m.RelationCount); err != nil {
			return nil, err
		}
		m.Description = desc.String
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		results = append(results, m)
	}
	return results, rows.Err()
}

// SearchEntities performs a full-text search over the entity mirror using
// FTS5 BM25 ranking, falling back to a LIKE scan when FTS matches nothing
// (the unicode61 tokenizer does not segment Chinese text).
func (s *Store) SearchEntities(ctx context.Context, query string, limit int) ([]EntityMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank,
			e.key, e.display_name, e.kind, e.description, e.auto_created, e.property_count, e.relation_count
		FROM entities_fts f
		JOIN entities e ON e.id = f.rowid
		WHERE entities_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, ftsQuote(query), limit)
	if err == nil {
		defer rows.Close()
		var results []EntityMatch
		for rows.Next() {
			var m EntityMatch
			var rank float64
			var desc sql.NullString
			if err := rows.Scan(&m.ID, &rank, &m.Key, &m.DisplayName, &m.Kind,
				&desc, &m.AutoCreated, &m.PropertyCount, &m.RelationCount); err != nil {
				return nil, err
			}
			m.Description = desc.String
			// FTS5 rank is negative (lower = better), convert to positive score
			m.Score = -rank
			results = append(results, m)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	return s.likeSearchEntities(ctx, query, limit)
}

func (s *Store) likeSearchEntities(ctx context.Context, query string, limit int) ([]EntityMatch, error) {
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, display_name, kind, description, auto_created, property_count, relation_count
		FROM entities
		WHERE key LIKE ? OR display_name LIKE ? OR description LIKE ?
		ORDER BY key
		LIMIT ?
	`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}
	results := make([]EntityMatch, 0, len(entities))
	for _, e := range entities {
		results = append(results, EntityMatch{Entity: e, Score: 1.0})
	}
	return results, nil
}

// ftsQuote wraps the query in double quotes so punctuation does not break
// FTS5 query syntax.
func ftsQuote(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

func scanEntities(rows *sql.Rows) ([]Entity, error) {
	var entities []Entity
	for rows.Next() {
		var e Entity
		var desc sql.NullString
		if err := rows.Scan(&e.ID, &e.Key, &e.DisplayName, &e.Kind, &desc,
			&e.AutoCreated, &e.PropertyCount, &e.RelationCount); err != nil {
			return nil, err
		}
		e.Description = desc.String
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

// DBStats holds row counts for observability endpoints.
type DBStats struct {
	Documents  int `json:"documents"`
	Runs       int `json:"extraction_runs"`
	Snapshots  int `json:"schema_snapshots"`
	Entities   int `json:"entities"`
	Embeddings int `json:"embeddings"`
}

// Stats returns row counts for all tables.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM documents", &stats.Documents},
		{"SELECT COUNT(*) FROM extraction_runs", &stats.Runs},
		{"SELECT COUNT(*) FROM schema_snapshots", &stats.Snapshots},
		{"SELECT COUNT(*) FROM entities", &stats.Entities},
		{"SELECT COUNT(*) FROM vec_entities", &stats.Embeddings},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
