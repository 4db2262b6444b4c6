package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	autospg "github.com/shawnsang/auto-openspg-schema"
)

type handler struct {
	engine autospg.Engine
}

func newHandler(e autospg.Engine) *handler {
	return &handler{engine: e}
}

// POST /documents
// Accepts multipart file upload or JSON with file path; runs the full
// pipeline on the document.
func (h *handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	// Try multipart upload first
	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()

			// Sanitise filename to prevent path traversal.
			safeName := filepath.Base(header.Filename)

			tmpPath := filepath.Join(os.TempDir(), safeName)
			dst, err := os.Create(tmpPath)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to process file")
				slog.Error("creating temp file", "error", err)
				return
			}
			if _, err := io.Copy(dst, file); err != nil {
				dst.Close()
				writeError(w, http.StatusInternalServerError, "failed to save file")
				slog.Error("saving uploaded file", "error", err)
				return
			}
			dst.Close()
			defer os.Remove(tmpPath)

			result, err := h.engine.ProcessDocument(ctx, tmpPath)
			if err != nil {
				writeProcessError(w, err)
				slog.Error("process error", "filename", safeName, "error", err)
				return
			}

			writeJSON(w, http.StatusOK, result)
			return
		}
	}

	// Try JSON body with path
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path'")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	absPath, err := filepath.Abs(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(absPath)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusBadRequest, "path must be an existing file")
		return
	}

	result, err := h.engine.ProcessDocument(ctx, absPath)
	if err != nil {
		writeProcessError(w, err)
		slog.Error("process error", "path", absPath, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /text
func (h *handler) handleProcessText(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result, err := h.engine.ProcessText(ctx, req.Text)
	if err != nil {
		writeProcessError(w, err)
		slog.Error("process text error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /schema
// Returns the serialized OpenSPG schema as plain text.
func (h *handler) handleSchema(w http.ResponseWriter, r *http.Request) {
	text, err := h.engine.GenerateSchema(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "schema generation failed")
		slog.Error("schema error", "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(text))
}

// GET /export?format=json|yaml|openspg
func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := h.engine.ExportSchema(r.Context(), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "yaml", "yml":
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// POST /import?format=json|yaml
// Body is the raw export document. Import is atomic: on failure the
// current graph is unchanged.
func (h *handler) handleImport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 50<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	if err := h.engine.ImportSchema(r.Context(), format, data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		slog.Error("import error", "format", format, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

// GET /entities?q=...&limit=N&semantic=true
func (h *handler) handleEntities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	if query == "" {
		entities, err := h.engine.Store().AllEntities(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "listing entities failed")
			slog.Error("entities error", "error", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entities": entities})
		return
	}

	var (
		matches interface{}
		err     error
	)
	if r.URL.Query().Get("semantic") == "true" {
		matches, err = h.engine.SemanticSearchEntities(r.Context(), query, limit)
	} else {
		matches, err = h.engine.SearchEntities(r.Context(), query, limit)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		slog.Error("search error", "query", query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entities": matches})
}

// GET /suggestions
// Advisory entity deletion suggestions from the LLM; nothing is removed.
func (h *handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	suggestions, err := h.engine.SuggestDeletions(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "suggestion generation failed")
		slog.Error("suggestions error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.Documents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		slog.Error("list documents error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		slog.Error("stats error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeProcessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, autospg.ErrDocumentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, autospg.ErrUnsupportedFormat),
		errors.Is(err, autospg.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "processing failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
