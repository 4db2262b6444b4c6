// Package autospg turns construction documents into a consistent OpenSPG
// schema: parse, chunk, LLM-extract entity candidates, normalize and merge
// them into a schema graph, then serialize the result.
package autospg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shawnsang/auto-openspg-schema/chunker"
	"github.com/shawnsang/auto-openspg-schema/extract"
	"github.com/shawnsang/auto-openspg-schema/llm"
	"github.com/shawnsang/auto-openspg-schema/parser"
	"github.com/shawnsang/auto-openspg-schema/schema"
	"github.com/shawnsang/auto-openspg-schema/store"
)

// Engine is the main entry point for the schema generation pipeline.
// It is not safe for concurrent use; callers serialize access.
type Engine interface {
	// ProcessDocument runs the full pipeline on a file: parse, chunk,
	// extract, merge, validate. Unchanged files (by content hash) are
	// skipped unless force is requested via reprocessing.
	ProcessDocument(ctx context.Context, path string) (*ProcessResult, error)

	// ProcessText runs the pipeline on raw text without a document record.
	ProcessText(ctx context.Context, text string) (*ProcessResult, error)

	// GenerateSchema validates, orders and serializes the current graph
	// to OpenSPG schema text, storing a snapshot.
	GenerateSchema(ctx context.Context) (string, error)

	// ExportSchema serializes the graph in the given format:
	// "openspg", "json" or "yaml".
	ExportSchema(ctx context.Context, format string) ([]byte, error)

	// ImportSchema replaces the graph from a JSON or YAML export.
	ImportSchema(ctx context.Context, format string, data []byte) error

	// SearchEntities finds entities by text query.
	SearchEntities(ctx context.Context, query string, limit int) ([]store.EntityMatch, error)

	// SemanticSearchEntities finds entities by embedding similarity.
	SemanticSearchEntities(ctx context.Context, query string, k int) ([]store.EntityMatch, error)

	// SuggestDeletions asks the LLM for advisory entity removals.
	// Nothing is deleted automatically.
	SuggestDeletions(ctx context.Context) ([]extract.DeletionSuggestion, error)

	// Documents lists all processed documents.
	Documents(ctx context.Context) ([]store.Document, error)

	// Stats reports graph and database statistics.
	Stats(ctx context.Context) (*Stats, error)

	// CheckConnection verifies the chat provider is reachable.
	CheckConnection(ctx context.Context) error

	// Manager exposes the live schema graph.
	Manager() *schema.Manager

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// ProcessResult reports the outcome of one pipeline run.
type ProcessResult struct {
	DocumentID       int64                      `json:"document_id,omitempty"`
	Unchanged        bool                       `json:"unchanged,omitempty"`
	Chunks           int                        `json:"chunks"`
	FailedChunks     int                        `json:"failed_chunks"`
	Created          int                        `json:"created"`
	Updated          int                        `json:"updated"`
	Skipped          int                        `json:"skipped"`
	UnchangedRecords int                        `json:"unchanged_records"`
	MergedClusters   []schema.MergeCluster      `json:"merged_clusters,omitempty"`
	Stubs            []schema.StubRecord        `json:"stubs,omitempty"`
	Collapsed        []schema.CollapsedRelation `json:"collapsed,omitempty"`
	Warnings         []schema.Warning           `json:"warnings,omitempty"`
	Rejections       []schema.Rejection         `json:"rejections,omitempty"`
}

// Stats combines live graph statistics with database row counts.
type Stats struct {
	Schema schema.Stats  `json:"schema"`
	DB     store.DBStats `json:"db"`
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg          Config
	store        *store.Store
	chatLLM      llm.Provider
	embedLLM     llm.Provider
	parsers      *parser.Registry
	chunkr       *chunker.Chunker
	manager      *schema.Manager
	extractor    *extract.Extractor
	recentChunks []string
}

// New creates an engine with the given configuration. The persisted entity
// mirror is advisory; the live graph starts from the latest JSON snapshot
// when one exists.
func New(cfg Config) (Engine, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = DefaultConfig().EmbeddingDim
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}

	var embedLLM llm.Provider
	if cfg.Embedding.Provider != "" {
		embedLLM, err = llm.NewProvider(llm.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			BaseURL:  cfg.Embedding.BaseURL,
			APIKey:   cfg.Embedding.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	m := schema.NewManager(cfg.Namespace)
	if cfg.Merge != (schema.MergeConfig{}) {
		m.SetMergeConfig(cfg.Merge)
	}

	// Resume from the latest JSON snapshot if one exists.
	if snap, err := s.LatestSnapshot(context.Background(), cfg.Namespace, "json"); err == nil {
		if err := m.ImportJSON([]byte(snap.Content)); err != nil {
			slog.Warn("ignoring unreadable schema snapshot", "id", snap.ID, "error", err)
		} else {
			slog.Info("resumed schema from snapshot", "id", snap.ID, "entities", m.Len())
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("loading latest snapshot failed", "error", err)
	}

	return &engine{
		cfg:      cfg,
		store:    s,
		chatLLM:  chatLLM,
		embedLLM: embedLLM,
		parsers:  parser.NewRegistry(),
		chunkr: chunker.New(chunker.Config{
			ChunkSize: cfg.ChunkSize,
			Overlap:   cfg.ChunkOverlap,
		}),
		manager:   m,
		extractor: extract.New(chatLLM, m, cfg.ExtractConcurrency),
	}, nil
}

func (e *engine) ProcessDocument(ctx context.Context, path string) (*ProcessResult, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, absPath)
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}
	hash := store.ContentHash(data)

	if existing, err := e.store.GetDocumentByPath(ctx, absPath); err == nil &&
		existing.ContentHash == hash && existing.Status == "processed" {
		slog.Info("document unchanged, skipping", "path", absPath)
		return &ProcessResult{DocumentID: existing.ID, Unchanged: true}, nil
	}

	p, err := e.parsers.ForPath(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(absPath))
	}

	parsed, err := p.Parse(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	chunks := e.chunkr.SplitSections(parsed.Sections)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(absPath)), ".")
	docID, err := e.store.UpsertDocument(ctx, store.Document{
		Path:        absPath,
		Filename:    filepath.Base(absPath),
		Format:      format,
		ContentHash: hash,
		ParseMethod: parsed.Method,
		Status:      "processing",
		ChunkCount:  len(chunks),
	})
	if err != nil {
		return nil, fmt.Errorf("registering document: %w", err)
	}

	result, err := e.runExtraction(ctx, chunks, &docID)
	if err != nil {
		if stErr := e.store.UpdateDocumentStatus(ctx, docID, "failed"); stErr != nil {
			slog.Warn("marking document failed", "error", stErr)
		}
		return nil, err
	}
	result.DocumentID = docID

	if err := e.store.UpdateDocumentStatus(ctx, docID, "processed"); err != nil {
		slog.Warn("marking document processed", "error", err)
	}
	return result, nil
}

func (e *engine) ProcessText(ctx context.Context, text string) (*ProcessResult, error) {
	chunks := e.chunkr.Split(chunker.CleanText(text))
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	return e.runExtraction(ctx, chunks, nil)
}

// runExtraction is the shared back half of the pipeline: extract, merge,
// validate, log the run and refresh the entity mirror.
func (e *engine) runExtraction(ctx context.Context, chunks []string, docID *int64) (*ProcessResult, error) {
	res, err := e.extractor.Process(ctx, chunks)
	if err != nil {
		if res != nil {
			e.logRun(ctx, docID, res, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	mergeReport := e.manager.MergeDuplicates()
	validateReport := e.manager.ValidateRelations()

	e.logRun(ctx, docID, res, nil)
	e.recentChunks = chunks
	if err := e.syncEntities(ctx); err != nil {
		slog.Warn("refreshing entity mirror", "error", err)
	}
	e.embedMissing(ctx)

	return &ProcessResult{
		Chunks:           res.Chunks,
		FailedChunks:     res.FailedChunks,
		Created:          res.Created,
		Updated:          res.Updated,
		Skipped:          res.Skipped,
		UnchangedRecords: res.Unchanged,
		MergedClusters:   mergeReport.Clusters,
		Stubs:            validateReport.Stubs,
		Collapsed:        validateReport.Collapsed,
		Warnings:         res.Warnings,
		Rejections:       res.Rejections,
	}, nil
}

func (e *engine) logRun(ctx context.Context, docID *int64, res *extract.Result, runErr error) {
	run := store.ExtractionRun{
		DocumentID:   docID,
		Chunks:       res.Chunks,
		FailedChunks: res.FailedChunks,
		Created:      res.Created,
		Updated:      res.Updated,
		Skipped:      res.Skipped,
		Warnings:     len(res.Warnings),
		Rejections:   len(res.Rejections),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if _, err := e.store.LogExtractionRun(ctx, run); err != nil {
		slog.Warn("logging extraction run", "error", err)
	}
}

// syncEntities mirrors the live graph into the store for search.
func (e *engine) syncEntities(ctx context.Context) error {
	live := e.manager.Entities()
	rows := make([]store.Entity, 0, len(live))
	for _, ent := range live {
		rows = append(rows, store.Entity{
			Key:           ent.Key,
			DisplayName:   ent.DisplayName,
			Kind:          string(ent.Kind),
			Description:   ent.Description,
			AutoCreated:   ent.AutoCreated,
			PropertyCount: len(ent.Properties),
			RelationCount: len(ent.Relations),
		})
	}
	return e.store.ReplaceEntities(ctx, rows)
}

// embedMissing computes embeddings for mirrored entities that lack one.
// Failures are logged, never fatal: search degrades to text matching.
func (e *engine) embedMissing(ctx context.Context) {
	if e.embedLLM == nil {
		return
	}
	missing, err := e.store.EntitiesWithoutEmbedding(ctx)
	if err != nil {
		slog.Warn("listing entities without embedding", "error", err)
		return
	}
	if len(missing) == 0 {
		return
	}

	texts := make([]string, len(missing))
	for i, ent := range missing {
		texts[i] = embeddingText(ent)
	}
	vecs, err := e.embedLLM.Embed(ctx, texts)
	if err != nil {
		slog.Warn("embedding entities", "count", len(missing), "error", err)
		return
	}
	if len(vecs) != len(missing) {
		slog.Warn("embedding count mismatch", "want", len(missing), "got", len(vecs))
		return
	}
	for i, ent := range missing {
		if err := e.store.UpsertEntityEmbedding(ctx, ent.ID, vecs[i]); err != nil {
			slog.Warn("storing embedding", "entity", ent.Key, "error", err)
		}
	}
	slog.Debug("embedded entities", "count", len(missing))
}

func embeddingText(ent store.Entity) string {
	if ent.Description != "" {
		return ent.DisplayName + ": " + ent.Description
	}
	return ent.DisplayName
}

func (e *engine) GenerateSchema(ctx context.Context) (string, error) {
	text := e.manager.GenerateSchema()
	e.saveSnapshot(ctx, "openspg", text)

	// Keep a JSON snapshot alongside so the graph can be resumed.
	if data, err := e.manager.ExportJSON(); err == nil {
		e.saveSnapshot(ctx, "json", string(data))
	}
	if err := e.syncEntities(ctx); err != nil {
		slog.Warn("refreshing entity mirror", "error", err)
	}
	return text, nil
}

func (e *engine) ExportSchema(ctx context.Context, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "openspg", "text", "":
		text, err := e.GenerateSchema(ctx)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	case "json":
		data, err := e.manager.ExportJSON()
		if err != nil {
			return nil, err
		}
		e.saveSnapshot(ctx, "json", string(data))
		return data, nil
	case "yaml", "yml":
		data, err := e.manager.ExportYAML()
		if err != nil {
			return nil, err
		}
		e.saveSnapshot(ctx, "yaml", string(data))
		return data, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

func (e *engine) ImportSchema(ctx context.Context, format string, data []byte) error {
	var err error
	switch strings.ToLower(format) {
	case "json":
		err = e.manager.ImportJSON(data)
	case "yaml", "yml":
		err = e.manager.ImportYAML(data)
	default:
		return fmt.Errorf("unknown import format %q", format)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	if err := e.syncEntities(ctx); err != nil {
		slog.Warn("refreshing entity mirror", "error", err)
	}
	e.embedMissing(ctx)
	return nil
}

func (e *engine) saveSnapshot(ctx context.Context, format, content string) {
	if _, err := e.store.SaveSnapshot(ctx, store.Snapshot{
		Namespace:   e.manager.Namespace(),
		Format:      format,
		Content:     content,
		EntityCount: e.manager.Len(),
	}); err != nil {
		slog.Warn("saving snapshot", "format", format, "error", err)
	}
}

func (e *engine) SearchEntities(ctx context.Context, query string, limit int) ([]store.EntityMatch, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.store.SearchEntities(ctx, query, limit)
}

func (e *engine) SemanticSearchEntities(ctx context.Context, query string, k int) ([]store.EntityMatch, error) {
	if e.embedLLM == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	if k <= 0 {
		k = 10
	}
	vecs, err := e.embedLLM.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}
	return e.store.SemanticSearchEntities(ctx, vecs[0], k)
}

func (e *engine) SuggestDeletions(ctx context.Context) ([]extract.DeletionSuggestion, error) {
	return e.extractor.SuggestDeletions(ctx, e.recentChunks)
}

func (e *engine) Documents(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	dbStats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Schema: e.manager.Statistics(),
		DB:     *dbStats,
	}, nil
}

func (e *engine) CheckConnection(ctx context.Context) error {
	return llm.CheckConnection(ctx, e.chatLLM)
}

func (e *engine) Manager() *schema.Manager { return e.manager }

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) Close() error {
	return e.store.Close()
}
