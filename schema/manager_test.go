package schema

import (
	"testing"
)

func TestIngestCounts(t *testing.T) {
	m := NewManager("Tunnel")
	res := m.Ingest([]Record{
		{EnglishName: "Tunnel", ChineseName: "隧道"},
		{EnglishName: "Station"},
		{EnglishName: "bad key!"},
	})
	if res.Created != 2 || res.Skipped != 1 || res.Updated != 0 {
		t.Errorf("result = %+v, want 2 created, 1 skipped", res)
	}
	if len(res.Rejections) != 1 {
		t.Errorf("rejections = %+v, want one", res.Rejections)
	}
	if m.Len() != 2 {
		t.Errorf("entity count = %d, want 2", m.Len())
	}
}

func TestIngestUpdatesExistingEntity(t *testing.T) {
	m := newTestManager(t, Record{EnglishName: "Tunnel", ChineseName: "隧道"})

	res := m.Ingest([]Record{{
		EnglishName: "Tunnel",
		Description: "Underground passage.",
		Properties: map[string]RawProperty{
			"length": {Display: "长度", Type: "Float"},
		},
	}})
	if res.Updated != 1 || res.Created != 0 {
		t.Fatalf("result = %+v, want one update", res)
	}

	e, _ := m.Get("Tunnel")
	if e.DisplayName != "隧道" {
		t.Errorf("display = %q, existing value must win", e.DisplayName)
	}
	if e.Description != "Underground passage." {
		t.Errorf("description = %q, gap must be filled", e.Description)
	}
	if e.Properties["length"] == nil {
		t.Error("new property not added on update")
	}
}

func TestIngestBackfillsMissingDisplayName(t *testing.T) {
	m := newTestManager(t, Record{EnglishName: "Tunnel"})
	if e, _ := m.Get("Tunnel"); e.DisplayName != "" {
		t.Fatalf("display = %q, want empty before backfill", e.DisplayName)
	}

	res := m.Ingest([]Record{{EnglishName: "Tunnel", ChineseName: "隧道"}})
	if res.Updated != 1 {
		t.Fatalf("result = %+v, want display backfill counted as update", res)
	}
	e, _ := m.Get("Tunnel")
	if e.DisplayName != "隧道" {
		t.Fatalf("display = %q, want 隧道", e.DisplayName)
	}

	// The backfilled name must now resolve as a relation target instead of
	// minting a stub.
	m.Ingest([]Record{{
		EnglishName: "Portal",
		Relations:   map[string]RawRelation{"partOf": {Target: "隧道"}},
	}})
	report := m.ValidateRelations()
	if len(report.Stubs) != 0 {
		t.Errorf("stubs = %+v, want none", report.Stubs)
	}
	portal, _ := m.Get("Portal")
	if got := portal.Relations["partOf"].Target; got != "Tunnel" {
		t.Errorf("relation target = %q, want Tunnel", got)
	}
}

func TestIngestIdenticalRecordIsNoOp(t *testing.T) {
	rec := Record{
		EnglishName: "Tunnel",
		ChineseName: "隧道",
		Description: "Underground passage.",
	}
	m := newTestManager(t, rec)
	e, _ := m.Get("Tunnel")
	stamp := e.LastModified

	res := m.Ingest([]Record{rec})
	if res.Updated != 0 || res.Created != 0 || res.Unchanged != 1 || res.Skipped != 0 {
		t.Errorf("result = %+v, want identical record counted as unchanged", res)
	}
	e, _ = m.Get("Tunnel")
	if e.LastModified != stamp {
		t.Error("no-op ingest still touched the entity")
	}
}

func TestIngestJSONShapes(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		created int
	}{
		{
			name:    "record list",
			payload: `[{"english_name": "Tunnel"}, {"english_name": "Station"}]`,
			created: 2,
		},
		{
			name:    "entities wrapper",
			payload: `{"entities": [{"english_name": "Tunnel"}]}`,
			created: 1,
		},
		{
			name:    "record dict",
			payload: `{"隧道": {"english_name": "Tunnel"}, "车站": {"english_name": "Station"}}`,
			created: 2,
		},
		{
			name: "string and object raw shapes",
			payload: `[{
				"english_name": "Tunnel",
				"properties": {"length": "隧道长度", "width": {"name": "宽度", "type": "Float"}},
				"relations": {"connectsTo": "Station", "crosses": {"name": "穿越", "target": "River"}}
			}]`,
			created: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager("Test")
			res, err := m.IngestJSON([]byte(tt.payload))
			if err != nil {
				t.Fatalf("IngestJSON: %v", err)
			}
			if res.Created != tt.created {
				t.Errorf("created = %d, want %d", res.Created, tt.created)
			}
		})
	}
}

func TestIngestJSONBadPayload(t *testing.T) {
	m := NewManager("Test")
	if _, err := m.IngestJSON([]byte(`"just a string"`)); err == nil {
		t.Error("expected error for non-record payload")
	}
}

func TestSearch(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Tunnel", ChineseName: "隧道", Description: "Underground passage"},
		Record{EnglishName: "Station", ChineseName: "车站"},
	)

	if got := m.Search("tunnel"); len(got) != 1 || got[0].Key != "Tunnel" {
		t.Errorf("Search(tunnel) = %v", got)
	}
	if got := m.Search("车站"); len(got) != 1 || got[0].Key != "Station" {
		t.Errorf("Search(车站) = %v", got)
	}
	if got := m.Search("underground"); len(got) != 1 {
		t.Errorf("Search(underground) = %v, want description match", got)
	}
	if got := m.Search("  "); got != nil {
		t.Errorf("Search(blank) = %v, want nil", got)
	}
}

func TestRemoveThenValidateRecreatesStub(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Station"},
		Record{
			EnglishName: "Tunnel",
			Relations:   map[string]RawRelation{"connectsTo": {Target: "Station"}},
		},
	)

	if !m.Remove("Station") {
		t.Fatal("Remove returned false for live entity")
	}
	if m.Remove("Station") {
		t.Error("Remove returned true for missing entity")
	}

	report := m.ValidateRelations()
	if len(report.Stubs) != 1 || report.Stubs[0].Key != "Station" {
		t.Fatalf("stubs = %+v, want Station recreated", report.Stubs)
	}
	if e, ok := m.Get("Station"); !ok || !e.AutoCreated {
		t.Error("recreated Station should be an auto-created stub")
	}
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			Properties:  map[string]RawProperty{"length": {Type: "Float"}},
			Relations:   map[string]RawRelation{"connectsTo": {Target: "Station"}},
		},
		Record{EnglishName: "GroutingTech", Kind: "Concept"},
	)
	m.ValidateRelations() // creates the Station stub

	st := m.Statistics()
	if st.Namespace != "Tunnel" {
		t.Errorf("namespace = %q", st.Namespace)
	}
	if st.Total != 3 {
		t.Errorf("total = %d, want 3", st.Total)
	}
	if st.AutoCreated != 1 {
		t.Errorf("auto created = %d, want 1", st.AutoCreated)
	}
	if st.ByKind["Concept"] != 1 || st.ByKind["Object"] != 2 {
		t.Errorf("by kind = %v", st.ByKind)
	}
	if st.Properties != 1 || st.Relations != 1 {
		t.Errorf("properties = %d relations = %d, want 1 and 1", st.Properties, st.Relations)
	}
}

func TestHistoryRecordsActions(t *testing.T) {
	m := newTestManager(t, Record{EnglishName: "Tunnel"})
	m.Remove("Tunnel")

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("history = %+v, want created then removed", history)
	}
	if history[0].Action != "created" || history[1].Action != "removed" {
		t.Errorf("actions = %q, %q", history[0].Action, history[1].Action)
	}
}
