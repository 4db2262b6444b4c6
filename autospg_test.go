//go:build cgo

package autospg

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.Embedding.Provider = "" // no embedding provider in tests

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t)
	if e.Manager() == nil || e.Store() == nil {
		t.Fatal("engine components not wired")
	}
	if e.Manager().Namespace() != DefaultConfig().Namespace {
		t.Errorf("namespace = %q", e.Manager().Namespace())
	}
}

func TestProcessDocumentMissingFile(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ProcessDocument(context.Background(),
		filepath.Join(t.TempDir(), "no-such-plan.pdf"))
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestGenerateSchemaEmptyGraph(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	text, err := e.GenerateSchema(ctx)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(text, "namespace ") {
		t.Errorf("schema text = %q", text)
	}

	// Snapshots are stored for both text and resume formats.
	stats, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DB.Snapshots != 2 {
		t.Errorf("snapshots = %d, want 2 (openspg + json)", stats.DB.Snapshots)
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	doc := `{
		"namespace": "TunnelConstruction",
		"entities": {
			"Tunnel": {
				"key": "Tunnel",
				"display_name": "隧道",
				"kind": "Object",
				"created_at": "2026-01-01T00:00:00Z",
				"last_modified": "2026-01-01T00:00:00Z"
			}
		},
		"entity_order": ["Tunnel"]
	}`
	if err := e.ImportSchema(ctx, "json", []byte(doc)); err != nil {
		t.Fatalf("import: %v", err)
	}
	if e.Manager().Len() != 1 {
		t.Fatalf("graph has %d entities, want 1", e.Manager().Len())
	}

	// The entity mirror follows the import.
	matches, err := e.SearchEntities(ctx, "隧道", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0].Key != "Tunnel" {
		t.Errorf("matches = %+v", matches)
	}

	out, err := e.ExportSchema(ctx, "yaml")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(string(out), "Tunnel") {
		t.Errorf("yaml export missing entity: %s", out)
	}

	text, err := e.ExportSchema(ctx, "openspg")
	if err != nil {
		t.Fatalf("export text: %v", err)
	}
	if !strings.Contains(string(text), "Tunnel(隧道): EntityType") {
		t.Errorf("schema text = %q", text)
	}

	if _, err := e.ExportSchema(ctx, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestEngineResumesFromSnapshot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.EmbeddingDim = 4
	cfg.Embedding.Provider = ""

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	doc := `{
		"namespace": "` + cfg.Namespace + `",
		"entities": {
			"Lining": {"key": "Lining", "display_name": "衬砌", "kind": "Object",
				"created_at": "2026-01-01T00:00:00Z", "last_modified": "2026-01-01T00:00:00Z"}
		},
		"entity_order": ["Lining"]
	}`
	ctx := context.Background()
	if err := e.ImportSchema(ctx, "json", []byte(doc)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.GenerateSchema(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	// A new engine over the same database resumes the graph.
	e2, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()
	if e2.Manager().Len() != 1 {
		t.Errorf("resumed graph has %d entities, want 1", e2.Manager().Len())
	}
	if _, ok := e2.Manager().Get("Lining"); !ok {
		t.Error("resumed graph missing Lining")
	}
}
