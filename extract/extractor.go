// Package extract turns document chunks into schema candidate records by
// prompting a chat model and feeding whatever survives decoding into the
// schema manager.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shawnsang/auto-openspg-schema/llm"
	"github.com/shawnsang/auto-openspg-schema/schema"
)

const (
	defaultConcurrency = 3
	defaultTimeout     = 2 * time.Minute
)

// Extractor runs entity extraction over document chunks with bounded
// concurrency and ingests the results into a schema manager.
type Extractor struct {
	chat        llm.Provider
	manager     *schema.Manager
	concurrency int
	timeout     time.Duration
}

// Result aggregates one extraction run over a batch of chunks.
type Result struct {
	Chunks       int                `json:"chunks"`
	FailedChunks int                `json:"failed_chunks"`
	Created      int                `json:"created"`
	Updated      int                `json:"updated"`
	Skipped      int                `json:"skipped"`
	Unchanged    int                `json:"unchanged"`
	Warnings     []schema.Warning   `json:"warnings,omitempty"`
	Rejections   []schema.Rejection `json:"rejections,omitempty"`
	Errors       []string           `json:"errors,omitempty"`
}

// New creates an extractor writing into the given manager.
func New(chat llm.Provider, m *schema.Manager, concurrency int) *Extractor {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Extractor{
		chat:        chat,
		manager:     m,
		concurrency: concurrency,
		timeout:     defaultTimeout,
	}
}

// SetTimeout overrides the per-chunk LLM timeout.
func (x *Extractor) SetTimeout(d time.Duration) {
	if d > 0 {
		x.timeout = d
	}
}

// Process extracts candidate records from every chunk concurrently, then
// ingests them in chunk order. A failed chunk is logged and skipped; the run
// fails only when every chunk fails.
func (x *Extractor) Process(ctx context.Context, chunks []string) (*Result, error) {
	res := &Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, x.concurrency)
		records = make([][]schema.Record, len(chunks))
	)

	slog.Info("extract: processing chunks",
		"chunks", len(chunks), "concurrency", x.concurrency)

	for i, chunk := range chunks {
		wg.Add(1)
		go func(idx int, text string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("chunk %d: %v", idx, ctx.Err()))
				mu.Unlock()
				return
			}

			chunkCtx, cancel := context.WithTimeout(ctx, x.timeout)
			defer cancel()

			start := time.Now()
			recs, err := x.extractChunk(chunkCtx, text)
			if err != nil {
				slog.Warn("extract: chunk failed",
					"chunk", idx, "error", err,
					"elapsed", time.Since(start).Round(time.Millisecond))
				mu.Lock()
				res.Errors = append(res.Errors, fmt.Sprintf("chunk %d: %v", idx, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			records[idx] = recs
			mu.Unlock()
			slog.Debug("extract: chunk processed",
				"chunk", idx, "records", len(recs),
				"elapsed", time.Since(start).Round(time.Millisecond))
		}(i, chunk)
	}
	wg.Wait()

	res.FailedChunks = len(res.Errors)
	if res.FailedChunks == len(chunks) {
		return res, fmt.Errorf("extract: all %d chunks failed; first error: %s",
			len(chunks), res.Errors[0])
	}

	// Ingest sequentially in chunk order so first-seen semantics stay
	// deterministic regardless of which goroutine finished first.
	for _, recs := range records {
		if len(recs) == 0 {
			continue
		}
		batch := x.manager.Ingest(recs)
		res.Created += batch.Created
		res.Updated += batch.Updated
		res.Skipped += batch.Skipped
		res.Unchanged += batch.Unchanged
		res.Warnings = append(res.Warnings, batch.Warnings...)
		res.Rejections = append(res.Rejections, batch.Rejections...)
	}

	slog.Info("extract: run finished",
		"chunks", len(chunks), "failed", res.FailedChunks,
		"created", res.Created, "updated", res.Updated, "skipped", res.Skipped)
	return res, nil
}

// extractChunk runs one extraction call and decodes the records it returns.
func (x *Extractor) extractChunk(ctx context.Context, text string) ([]schema.Record, error) {
	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, text)},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing extraction result: %w", err)
	}
	recs, err := schema.DecodeCandidates([]byte(jsonStr))
	if err != nil {
		return nil, fmt.Errorf("decoding extraction result: %w", err)
	}
	return recs, nil
}

// codeBlockRe strips markdown code fences from LLM output.
var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// extractJSON finds the JSON document in an LLM response. It handles common
// model quirks: markdown code blocks and prose before or after the JSON.
func extractJSON(raw string) (string, error) {
	if m := codeBlockRe.FindStringSubmatch(raw); len(m) > 1 {
		raw = m[1]
	}
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		return raw, nil
	}
	if start, end := strings.Index(raw, "["), strings.LastIndex(raw, "]"); start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start >= 0 && end > start {
		return raw[start : end+1], nil
	}
	return "", fmt.Errorf("no JSON document found in response")
}

// DeletionSuggestion is one advisory entry proposing an entity for removal.
// Suggestions are never applied automatically.
type DeletionSuggestion struct {
	Entity string `json:"entity"`
	Reason string `json:"reason"`
}

// SuggestDeletions asks the model which existing entities look irrelevant
// or redundant given a sample of the source document. The sample is capped
// at five chunks to keep the prompt bounded.
func (x *Extractor) SuggestDeletions(ctx context.Context, chunks []string) ([]DeletionSuggestion, error) {
	entities := x.manager.Entities()
	if len(entities) == 0 {
		return nil, nil
	}

	var summary strings.Builder
	for _, e := range entities {
		desc := e.Description
		if desc == "" {
			desc = "无描述"
		}
		fmt.Fprintf(&summary, "- %s: %s\n", e.Key, desc)
	}

	sample := chunks
	if len(sample) > 5 {
		sample = sample[:5]
	}

	resp, err := x.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: extractionSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(deletionPrompt, summary.String(), strings.Join(sample, "\n"))},
		},
		Temperature: 0.0,
	})
	if err != nil {
		return nil, fmt.Errorf("deletion suggestion llm chat: %w", err)
	}

	jsonStr, err := extractJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing deletion suggestions: %w", err)
	}
	var suggestions []DeletionSuggestion
	if err := json.Unmarshal([]byte(jsonStr), &suggestions); err != nil {
		return nil, fmt.Errorf("decoding deletion suggestions: %w", err)
	}
	return suggestions, nil
}
