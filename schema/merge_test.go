package schema

import (
	"testing"
)

func newTestManager(t *testing.T, records ...Record) *Manager {
	t.Helper()
	m := NewManager("Tunnel")
	res := m.Ingest(records)
	if res.Skipped != 0 {
		t.Fatalf("test records skipped: %+v", res.Rejections)
	}
	return m
}

func TestMergeDuplicatesByDescription(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Shotcrete",
			ChineseName: "喷射混凝土",
			Description: "Concrete sprayed onto tunnel walls for support",
		},
		Record{
			EnglishName: "SprayedConcrete",
			Description: "Concrete sprayed onto tunnel walls for ground support",
			Properties: map[string]RawProperty{
				"strength": {Display: "强度", Type: "Float"},
			},
		},
	)

	report := m.MergeDuplicates()
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(report.Clusters))
	}
	cluster := report.Clusters[0]
	if cluster.Survivor != "Shotcrete" {
		t.Errorf("survivor = %q, want Shotcrete", cluster.Survivor)
	}
	if len(cluster.Merged) != 1 || cluster.Merged[0] != "SprayedConcrete" {
		t.Errorf("merged = %v, want [SprayedConcrete]", cluster.Merged)
	}

	// No information loss: the loser's property moved to the survivor.
	survivor, ok := m.Get("Shotcrete")
	if !ok {
		t.Fatal("survivor missing")
	}
	if survivor.Properties["strength"] == nil {
		t.Error("survivor lost the merged strength property")
	}
	if m.Len() != 1 {
		t.Errorf("entity count = %d, want 1", m.Len())
	}

	// The merged-away key still resolves, to the survivor.
	if key, ok := m.Resolve("SprayedConcrete"); !ok || key != "Shotcrete" {
		t.Errorf("Resolve(SprayedConcrete) = %q, %v, want Shotcrete, true", key, ok)
	}
	if e, ok := m.Get("SprayedConcrete"); !ok || e.Key != "Shotcrete" {
		t.Errorf("Get(SprayedConcrete) did not follow redirect")
	}
}

func TestMergeDuplicatesByNormalizedKey(t *testing.T) {
	m := NewManager("Test")
	// Bypass grammar-level dedup by inserting directly: these keys differ
	// only in case, which normalizes away.
	m.insert(&Entity{Key: "TunnelLining", DisplayName: "衬砌", Kind: KindObject})
	m.insert(&Entity{Key: "Tunnellining", Kind: KindObject})

	report := m.MergeDuplicates()
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(report.Clusters))
	}
	if m.Len() != 1 {
		t.Errorf("entity count = %d, want 1", m.Len())
	}
}

func TestMergeDuplicatesBySubstring(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Tunnel", ChineseName: "隧道"},
		Record{EnglishName: "TunnelProject"},
	)

	report := m.MergeDuplicates()
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(report.Clusters))
	}
	if report.Clusters[0].Survivor != "Tunnel" {
		t.Errorf("survivor = %q, want shorter key Tunnel", report.Clusters[0].Survivor)
	}
}

func TestMergeShortKeysNotSubstringMerged(t *testing.T) {
	// "Arch" is inside "March" but both normalized keys are at or under the
	// minimum length, so containment must not fire.
	m := newTestManager(t,
		Record{EnglishName: "Arch"},
		Record{EnglishName: "March"},
	)
	if report := m.MergeDuplicates(); len(report.Clusters) != 0 {
		t.Errorf("clusters = %+v, want none for short keys", report.Clusters)
	}
}

func TestMergeTransitiveCluster(t *testing.T) {
	// A~B share a display name, B~C share a description. Union-find must
	// fold all three into one cluster.
	m := newTestManager(t,
		Record{EnglishName: "Waterproofing", DisplayName: "防水"},
		Record{
			EnglishName: "WaterproofWorks",
			DisplayName: "防水",
			Description: "Measures applied to keep groundwater out of the lining",
		},
		Record{
			EnglishName: "WaterproofingWorks",
			Description: "Measures applied to keep the groundwater out of the lining",
		},
	)

	report := m.MergeDuplicates()
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %+v, want one transitive cluster", report.Clusters)
	}
	if m.Len() != 1 {
		t.Errorf("entity count = %d, want 1", m.Len())
	}
}

func TestMergeIdempotent(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Shotcrete", Description: "Concrete sprayed onto tunnel walls for support"},
		Record{EnglishName: "SprayedConcrete", Description: "Concrete sprayed onto tunnel walls for ground support"},
		Record{EnglishName: "Excavator", Description: "Heavy machine used to dig and remove spoil"},
	)

	first := m.MergeDuplicates()
	if len(first.Clusters) != 1 {
		t.Fatalf("first pass clusters = %d, want 1", len(first.Clusters))
	}
	keysAfterFirst := m.Keys()

	second := m.MergeDuplicates()
	if len(second.Clusters) != 0 {
		t.Errorf("second pass clusters = %+v, want none", second.Clusters)
	}
	keysAfterSecond := m.Keys()
	if len(keysAfterFirst) != len(keysAfterSecond) {
		t.Fatalf("key count changed on idempotent pass")
	}
	for i := range keysAfterFirst {
		if keysAfterFirst[i] != keysAfterSecond[i] {
			t.Errorf("order changed on idempotent pass: %v vs %v", keysAfterFirst, keysAfterSecond)
		}
	}
}

func TestRedirectFollowsChains(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "WaterproofLayer", DisplayName: "防水层"},
		Record{EnglishName: "WaterproofingLayer", DisplayName: "防水层"},
	)
	if report := m.MergeDuplicates(); len(report.Clusters) != 1 {
		t.Fatalf("setup merge failed: %+v", report)
	}

	// A later, richer record wins the next merge; old redirects must
	// re-chain onto the final survivor.
	m.Ingest([]Record{{
		EnglishName: "Waterproof",
		DisplayName: "防水层",
		Description: "The impermeable membrane installed between the primary support and the secondary lining to keep groundwater out of the finished tunnel.",
	}})
	if report := m.MergeDuplicates(); len(report.Clusters) != 1 {
		t.Fatalf("second merge failed: %+v", report)
	}

	for _, old := range []string{"WaterproofLayer", "WaterproofingLayer"} {
		if key, ok := m.Resolve(old); !ok || key != "Waterproof" {
			t.Errorf("Resolve(%s) = %q, %v, want Waterproof, true", old, key, ok)
		}
	}
}

func TestCanonicalScorePrefersRicherEntity(t *testing.T) {
	poor := &Entity{Key: "SprayedConcreteLiningMaterial"}
	rich := &Entity{
		Key:         "Shotcrete",
		DisplayName: "喷射混凝土",
		Description: "Concrete conveyed through a hose and pneumatically projected at high velocity onto a surface, used as primary tunnel support.",
		Properties:  map[string]*PropertyDef{"strength": {Type: TextType}},
	}
	if canonicalScore(rich) <= canonicalScore(poor) {
		t.Errorf("score(rich)=%d should exceed score(poor)=%d",
			canonicalScore(rich), canonicalScore(poor))
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"a b c", "a b c", 1},
		{"a b c d", "a b c e", 0.6},
		{"", "a b", 0},
	}
	for _, tt := range tests {
		if got := jaccard(tt.a, tt.b); got != tt.want {
			t.Errorf("jaccard(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
