package schema

import (
	"strings"
	"testing"
)

func TestValidateRewritesDisplayNameTargets(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Tunnel", ChineseName: "隧道"},
		Record{
			EnglishName: "Shield",
			ChineseName: "盾构机",
			Relations: map[string]RawRelation{
				"excavates": {Display: "掘进", Target: "隧道"},
			},
		},
	)

	report := m.ValidateRelations()
	if report.RewrittenTargets != 1 {
		t.Errorf("rewritten = %d, want 1", report.RewrittenTargets)
	}
	if len(report.Stubs) != 0 {
		t.Errorf("stubs = %+v, want none", report.Stubs)
	}

	shield, _ := m.Get("Shield")
	if got := shield.Relations["excavates"].Target; got != "Tunnel" {
		t.Errorf("target = %q, want Tunnel", got)
	}
}

func TestValidateCreatesStubForUnknownKey(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			Relations: map[string]RawRelation{
				"uses": {Target: "Unknown123"},
			},
		},
	)

	report := m.ValidateRelations()
	if len(report.Stubs) != 1 {
		t.Fatalf("stubs = %+v, want exactly one", report.Stubs)
	}
	stub := report.Stubs[0]
	if stub.Key != "Unknown123" || stub.Referrer != "Tunnel" {
		t.Errorf("stub = %+v, want key Unknown123 referred by Tunnel", stub)
	}

	e, ok := m.Get("Unknown123")
	if !ok {
		t.Fatal("stub entity not inserted")
	}
	if !e.AutoCreated {
		t.Error("stub not flagged auto_created")
	}
	if e.Kind != KindObject {
		t.Errorf("stub kind = %q, want Object", e.Kind)
	}
	if !strings.Contains(e.Description, "Tunnel") {
		t.Errorf("stub description %q does not name the referrer", e.Description)
	}
	if e.CreatedAt == "" || e.LastModified == "" {
		t.Error("stub missing timestamps")
	}
}

func TestValidateMintsKeyForNonGrammarTarget(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			Relations: map[string]RawRelation{
				"crosses": {Target: "未知断层带"},
			},
		},
	)

	report := m.ValidateRelations()
	if len(report.Stubs) != 1 {
		t.Fatalf("stubs = %+v, want exactly one", report.Stubs)
	}
	stub := report.Stubs[0]
	if stub.Key != "AutoEntity1" {
		t.Errorf("stub key = %q, want minted AutoEntity1", stub.Key)
	}
	if stub.RawTarget != "未知断层带" {
		t.Errorf("raw target = %q, want original label", stub.RawTarget)
	}

	e, _ := m.Get("AutoEntity1")
	if e.DisplayName != "未知断层带" {
		t.Errorf("stub display = %q, want the raw label kept", e.DisplayName)
	}

	tunnel, _ := m.Get("Tunnel")
	if got := tunnel.Relations["crosses"].Target; got != "AutoEntity1" {
		t.Errorf("target = %q, want AutoEntity1", got)
	}

	// A later record referencing the same label resolves to the stub
	// through its display name instead of minting another entity.
	m.Ingest([]Record{{
		EnglishName: "Survey",
		Relations: map[string]RawRelation{
			"maps": {Target: "未知断层带"},
		},
	}})
	second := m.ValidateRelations()
	if len(second.Stubs) != 0 {
		t.Errorf("second pass stubs = %+v, want reuse of AutoEntity1", second.Stubs)
	}
	survey, _ := m.Get("Survey")
	if got := survey.Relations["maps"].Target; got != "AutoEntity1" {
		t.Errorf("target = %q, want AutoEntity1", got)
	}
}

func TestValidateCollapsesSameTargetRelations(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Station", ChineseName: "车站"},
		Record{
			EnglishName: "Tunnel",
			Relations: map[string]RawRelation{
				"connectsTo": {Display: "连接", Target: "Station"},
				"linksTo":    {Display: "通往", Target: "车站"},
			},
		},
	)

	report := m.ValidateRelations()
	if len(report.Collapsed) != 1 {
		t.Fatalf("collapsed = %+v, want exactly one", report.Collapsed)
	}
	c := report.Collapsed[0]
	if c.Kept != "connectsTo" || c.Removed != "linksTo" || c.Target != "Station" {
		t.Errorf("collapse = %+v, want linksTo folded into connectsTo", c)
	}

	tunnel, _ := m.Get("Tunnel")
	if len(tunnel.Relations) != 1 {
		t.Fatalf("relations = %+v, want single collapsed edge", tunnel.Relations)
	}
	rel := tunnel.Relations["connectsTo"]
	if rel.Target != "Station" {
		t.Errorf("target = %q, want Station", rel.Target)
	}
	found := false
	for _, alias := range rel.Aliases {
		if alias == "通往" {
			found = true
		}
	}
	if !found {
		t.Errorf("aliases = %v, want the removed relation's display name kept", rel.Aliases)
	}
}

func TestValidateConsultsMergeRedirects(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Shotcrete", Description: "Concrete sprayed onto tunnel walls for support"},
		Record{EnglishName: "SprayedConcrete", Description: "Concrete sprayed onto tunnel walls for ground support"},
		Record{
			EnglishName: "Lining",
			Relations: map[string]RawRelation{
				"madeOf": {Target: "SprayedConcrete"},
			},
		},
	)
	if report := m.MergeDuplicates(); len(report.Clusters) != 1 {
		t.Fatalf("setup merge failed: %+v", report)
	}

	report := m.ValidateRelations()
	if len(report.Stubs) != 0 {
		t.Errorf("stubs = %+v, want redirect instead of stub", report.Stubs)
	}
	lining, _ := m.Get("Lining")
	if got := lining.Relations["madeOf"].Target; got != "Shotcrete" {
		t.Errorf("target = %q, want redirect to survivor Shotcrete", got)
	}
}

func TestValidateIdempotent(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Tunnel", ChineseName: "隧道"},
		Record{
			EnglishName: "Shield",
			Relations: map[string]RawRelation{
				"excavates": {Target: "隧道"},
				"bores":     {Target: "Tunnel"},
				"uses":      {Target: "CutterHead"},
			},
		},
	)

	first := m.ValidateRelations()
	if first.RewrittenTargets == 0 || len(first.Stubs) != 1 || len(first.Collapsed) != 1 {
		t.Fatalf("first pass = %+v, want rewrites, one stub, one collapse", first)
	}
	shield, _ := m.Get("Shield")
	stamp := shield.LastModified

	second := m.ValidateRelations()
	if second.RewrittenTargets != 0 || len(second.Stubs) != 0 || len(second.Collapsed) != 0 {
		t.Errorf("second pass = %+v, want a no-op", second)
	}
	shield, _ = m.Get("Shield")
	if shield.LastModified != stamp {
		t.Error("no-op pass still touched the entity")
	}
}
