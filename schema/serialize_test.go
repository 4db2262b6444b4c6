package schema

import (
	"strings"
	"testing"
)

func TestGenerateSchemaText(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			ChineseName: "隧道",
			Properties: map[string]RawProperty{
				"length": {Display: "长度", Type: "Float", Constraint: "NotNull"},
			},
			Relations: map[string]RawRelation{
				"connectsTo": {Display: "连接", Target: "Station"},
			},
		},
		Record{EnglishName: "Station", ChineseName: "车站"},
		Record{EnglishName: "GroutingTech", ChineseName: "注浆工艺", Kind: "Concept"},
	)

	got := m.GenerateSchema()
	want := strings.Join([]string{
		"namespace Tunnel",
		"",
		"Station(车站): EntityType",
		"\tproperties:",
		"\t\tdesc(描述): Text",
		"\t\t\tconstraint: NotNull",
		"\t\tname(名称): Text",
		"\t\t\tconstraint: NotNull",
		"",
		"Tunnel(隧道): EntityType",
		"\tproperties:",
		"\t\tdesc(描述): Text",
		"\t\t\tconstraint: NotNull",
		"\t\tname(名称): Text",
		"\t\t\tconstraint: NotNull",
		"\t\tlength(长度): Float",
		"\t\t\tconstraint: NotNull",
		"\trelations:",
		"\t\tconnectsTo(连接): Station",
		"",
		"GroutingTech(注浆工艺): Concept",
		"\thypernymPredicate: isA",
	}, "\n")

	if got != want {
		t.Errorf("schema text mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestGenerateSchemaEventAndAliases(t *testing.T) {
	m := newTestManager(t,
		Record{EnglishName: "Station", ChineseName: "车站"},
		Record{
			EnglishName: "Opening",
			ChineseName: "开通",
			Kind:        "Event",
			Relations: map[string]RawRelation{
				"happensAt": {Display: "发生于", Target: "Station"},
				"locatedAt": {Display: "位于", Target: "车站"},
			},
		},
	)

	got := m.GenerateSchema()
	if !strings.Contains(got, "Opening(开通): EventType") {
		t.Errorf("schema text missing EventType header:\n%s", got)
	}
	if !strings.Contains(got, "\t\thappensAt(发生于): Station\n\t\t\taliases: 位于") {
		t.Errorf("schema text missing collapsed alias annotation:\n%s", got)
	}
	if strings.Contains(got, "locatedAt") {
		t.Errorf("collapsed relation still rendered:\n%s", got)
	}
}

func TestGenerateSchemaStubsDanglingTargets(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Tunnel",
			Relations: map[string]RawRelation{
				"uses": {Target: "Unknown123"},
			},
		},
	)

	got := m.GenerateSchema()
	if !strings.Contains(got, "Unknown123(Unknown123): EntityType") {
		t.Errorf("schema text missing auto-created stub:\n%s", got)
	}
	// The stub is a dependency of Tunnel and must be rendered first.
	if strings.Index(got, "Unknown123(") > strings.Index(got, "Tunnel(") {
		t.Errorf("stub rendered after its referrer:\n%s", got)
	}
}

func TestGenerateSchemaSubProperties(t *testing.T) {
	m := newTestManager(t,
		Record{
			EnglishName: "Segment",
			Properties: map[string]RawProperty{
				"geometry": {
					Display: "几何参数",
					SubProps: map[string]RawProperty{
						"width": {Display: "宽度", Type: "Float"},
					},
				},
			},
		},
	)

	got := m.GenerateSchema()
	if !strings.Contains(got, "\t\tgeometry(几何参数): Text\n\t\t\tproperties:\n\t\t\t\twidth(宽度): Float") {
		t.Errorf("schema text missing nested sub-property block:\n%s", got)
	}
}
