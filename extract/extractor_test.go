package extract

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shawnsang/auto-openspg-schema/llm"
	"github.com/shawnsang/auto-openspg-schema/schema"
)

// fakeChat returns canned responses keyed by a substring of the user prompt,
// falling back to a default response.
type fakeChat struct {
	mu       sync.Mutex
	byNeedle map[string]string
	fallback string
	err      error
	calls    int
}

func (f *fakeChat) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	for needle, resp := range f.byNeedle {
		if strings.Contains(prompt, needle) {
			return &llm.ChatResponse{Content: resp}, nil
		}
	}
	return &llm.ChatResponse{Content: f.fallback}, nil
}

func (f *fakeChat) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func TestProcessIngestsExtractedRecords(t *testing.T) {
	chat := &fakeChat{
		fallback: `[
			{"name": "隧道", "english_name": "Tunnel", "description": "地下通道", "category": "工程概念"},
			{"name": "喷射混凝土", "english_name": "Shotcrete", "category": "材料", "relations": {"usedIn": "隧道"}}
		]`,
	}
	m := schema.NewManager("Demo")
	x := New(chat, m, 2)

	res, err := x.Process(context.Background(), []string{"chunk one", "chunk two"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.FailedChunks != 0 {
		t.Errorf("failed chunks = %d, want 0", res.FailedChunks)
	}
	// First chunk creates both entities; the identical second chunk is a
	// no-op and counts as skipped.
	if res.Created != 2 {
		t.Errorf("created = %d, want 2", res.Created)
	}
	if _, ok := m.Get("Tunnel"); !ok {
		t.Error("Tunnel not ingested")
	}
	if _, ok := m.Get("Shotcrete"); !ok {
		t.Error("Shotcrete not ingested")
	}
}

func TestProcessRecoversFencedJSON(t *testing.T) {
	chat := &fakeChat{
		fallback: "Here is the result:\n```json\n[{\"english_name\": \"Tunnel\"}]\n```\nDone.",
	}
	m := schema.NewManager("Demo")
	x := New(chat, m, 1)

	res, err := x.Process(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("created = %d, want 1", res.Created)
	}
}

func TestProcessPartialFailure(t *testing.T) {
	chat := &fakeChat{
		byNeedle: map[string]string{
			"good chunk": `[{"english_name": "Tunnel"}]`,
		},
		fallback: "no json here at all",
	}
	m := schema.NewManager("Demo")
	x := New(chat, m, 1)

	res, err := x.Process(context.Background(), []string{"good chunk", "bad chunk"})
	if err != nil {
		t.Fatalf("partial failure must not fail the run: %v", err)
	}
	if res.FailedChunks != 1 || len(res.Errors) != 1 {
		t.Errorf("failed = %d errors = %v, want one failed chunk", res.FailedChunks, res.Errors)
	}
	if res.Created != 1 {
		t.Errorf("created = %d, want the good chunk ingested", res.Created)
	}
}

func TestProcessAllChunksFailed(t *testing.T) {
	chat := &fakeChat{err: errors.New("provider down")}
	m := schema.NewManager("Demo")
	x := New(chat, m, 1)

	if _, err := x.Process(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error when every chunk fails")
	}
}

func TestProcessEmptyInput(t *testing.T) {
	chat := &fakeChat{}
	m := schema.NewManager("Demo")
	x := New(chat, m, 1)

	res, err := x.Process(context.Background(), nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Chunks != 0 || chat.calls != 0 {
		t.Errorf("empty input must not call the provider")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare array", `[{"a":1}]`, `[{"a":1}]`, false},
		{"bare object", `{"entities":[]}`, `{"entities":[]}`, false},
		{"fenced", "```json\n[1,2]\n```", "[1,2]", false},
		{"prose around array", `Sure! [{"a":1}] Hope that helps.`, `[{"a":1}]`, false},
		{"prose around object", `Result: {"a":1}.`, `{"a":1}`, false},
		{"no json", "sorry, I cannot do that", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSuggestDeletions(t *testing.T) {
	chat := &fakeChat{
		fallback: `[{"entity": "Tunnel", "reason": "not mentioned in the document"}]`,
	}
	m := schema.NewManager("Demo")
	m.Ingest([]schema.Record{{EnglishName: "Tunnel"}})
	x := New(chat, m, 1)

	got, err := x.SuggestDeletions(context.Background(), []string{"text"})
	if err != nil {
		t.Fatalf("SuggestDeletions: %v", err)
	}
	if len(got) != 1 || got[0].Entity != "Tunnel" {
		t.Errorf("suggestions = %+v", got)
	}

	// Advisory only: the entity must still be present.
	if _, ok := m.Get("Tunnel"); !ok {
		t.Error("suggestion was applied to the graph")
	}
}

func TestSuggestDeletionsEmptyGraph(t *testing.T) {
	chat := &fakeChat{}
	m := schema.NewManager("Demo")
	x := New(chat, m, 1)

	got, err := x.SuggestDeletions(context.Background(), []string{"text"})
	if err != nil || got != nil {
		t.Errorf("empty graph should short-circuit, got %v, %v", got, err)
	}
	if chat.calls != 0 {
		t.Error("provider called for empty graph")
	}
}
