package schema

import (
	"testing"
)

func indexOf(keys []string, key string) int {
	for i, k := range keys {
		if k == key {
			return i
		}
	}
	return -1
}

func TestSequencePutsDependenciesFirst(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			Properties: map[string]RawProperty{
				"lining": {Type: "Lining"},
			},
			Relations: map[string]RawRelation{
				"connectsTo": {Target: "Station"},
			},
		},
		Record{EnglishName: "Lining"},
		Record{EnglishName: "Station"},
	)

	order, warnings := m.Sequence()
	if len(warnings) != 0 {
		t.Fatalf("warnings = %+v, want none", warnings)
	}
	if len(order) != 3 {
		t.Fatalf("order = %v, want all three entities", order)
	}
	tunnel := indexOf(order, "Tunnel")
	if lining := indexOf(order, "Lining"); lining > tunnel {
		t.Errorf("order = %v, want Lining before Tunnel", order)
	}
	if station := indexOf(order, "Station"); station > tunnel {
		t.Errorf("order = %v, want Station before Tunnel", order)
	}
}

func TestSequenceKeepsFirstSeenOrderWithoutEdges(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Alpha"},
		Record{EnglishName: "Beta"},
		Record{EnglishName: "Gamma"},
	)

	order, _ := m.Sequence()
	want := []string{"Alpha", "Beta", "Gamma"}
	for i, key := range want {
		if order[i] != key {
			t.Fatalf("order = %v, want first-seen %v", order, want)
		}
	}
}

func TestSequenceBreaksCycles(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Alpha", Relations: map[string]RawRelation{"next": {Target: "Beta"}}},
		Record{EnglishName: "Beta", Relations: map[string]RawRelation{"next": {Target: "Gamma"}}},
		Record{EnglishName: "Gamma", Relations: map[string]RawRelation{"next": {Target: "Alpha"}}},
	)

	order, warnings := m.Sequence()
	if len(order) != 3 {
		t.Fatalf("order = %v, want every entity exactly once", order)
	}
	seen := map[string]bool{}
	for _, key := range order {
		if seen[key] {
			t.Fatalf("order = %v, entity %q appears twice", order, key)
		}
		seen[key] = true
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %+v, want exactly one broken edge", warnings)
	}
	if warnings[0].DependsOn != "Alpha" {
		t.Errorf("broken edge = %+v, want the back-edge onto Alpha", warnings[0])
	}
}

func TestSequenceIgnoresSelfReference(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Node", Relations: map[string]RawRelation{"parent": {Target: "Node"}}},
	)
	order, warnings := m.Sequence()
	if len(order) != 1 || len(warnings) != 0 {
		t.Errorf("order = %v warnings = %+v, want single entity and no warnings", order, warnings)
	}
}
