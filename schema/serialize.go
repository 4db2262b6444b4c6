package schema

import (
	"strings"
)

// Fixed placeholder lines every non-Concept entity carries, emitted first
// in this order. The Chinese labels match the OpenSPG convention.
const (
	descPlaceholderKey = "desc"
	namePlaceholderKey = "name"
)

// GenerateSchema renders the graph as OpenSPG schema text. It first runs a
// validation pass so the serializer never sees a dangling target, then
// sequences the entities so referenced entities appear before their
// referrers.
func (m *Manager) GenerateSchema() string {
	m.ValidateRelations()
	order, _ := m.Sequence()

	var b strings.Builder
	b.WriteString("namespace " + m.namespace + "\n")

	for _, key := range order {
		b.WriteString("\n")
		serializeEntity(&b, m.entities[key])
	}

	return strings.TrimRight(b.String(), "\n")
}

// serializeEntity renders one entity block. Indentation is structural:
// one tab per nesting level (entity → section → item → item metadata →
// sub-item), never varied by content.
func serializeEntity(b *strings.Builder, e *Entity) {
	b.WriteString(e.Key + "(" + e.display() + "): " + e.Kind.schemaType() + "\n")

	if e.Kind == KindConcept {
		// Concepts carry no structured body, only the hierarchy marker.
		b.WriteString("\thypernymPredicate: isA\n")
		return
	}

	b.WriteString("\tproperties:\n")
	writePlaceholder(b, e, descPlaceholderKey, "描述")
	writePlaceholder(b, e, namePlaceholderKey, "名称")
	for _, propKey := range sortedKeys(e.Properties) {
		if propKey == descPlaceholderKey || propKey == namePlaceholderKey {
			continue
		}
		writeProperty(b, propKey, e.Properties[propKey])
	}

	if len(e.Relations) == 0 {
		return
	}
	b.WriteString("\trelations:\n")
	for _, relKey := range sortedKeys(e.Relations) {
		rel := e.Relations[relKey]
		b.WriteString("\t\t" + relKey + "(" + rel.DisplayName + "): " + rel.Target + "\n")
		if rel.Constraint != "" {
			b.WriteString("\t\t\tconstraint: " + string(rel.Constraint) + "\n")
		}
		if len(rel.Aliases) > 0 {
			b.WriteString("\t\t\taliases: " + strings.Join(rel.Aliases, ", ") + "\n")
		}
		if len(rel.Properties) > 0 {
			b.WriteString("\t\t\tproperties:\n")
			for _, propKey := range sortedKeys(rel.Properties) {
				def := rel.Properties[propKey]
				b.WriteString("\t\t\t\t" + propKey + "(" + def.DisplayName + "): " + def.Type.String() + "\n")
			}
		}
	}
}

// writePlaceholder emits one of the two mandatory properties, preferring
// the entity's own definition when the producer supplied one.
func writePlaceholder(b *strings.Builder, e *Entity, key, label string) {
	if def, ok := e.Properties[key]; ok {
		writeProperty(b, key, def)
		return
	}
	b.WriteString("\t\t" + key + "(" + label + "): Text\n")
	b.WriteString("\t\t\tconstraint: NotNull\n")
}

// writeProperty emits one property item with its metadata and one level of
// sub-properties. Sub-property metadata is not rendered: the schema grammar
// caps property nesting at four tab levels.
func writeProperty(b *strings.Builder, key string, def *PropertyDef) {
	b.WriteString("\t\t" + key + "(" + def.DisplayName + "): " + def.Type.String() + "\n")
	if def.Constraint != "" {
		b.WriteString("\t\t\tconstraint: " + string(def.Constraint) + "\n")
	}
	if len(def.SubProps) > 0 {
		b.WriteString("\t\t\tproperties:\n")
		for _, subKey := range sortedKeys(def.SubProps) {
			sub := def.SubProps[subKey]
			b.WriteString("\t\t\t\t" + subKey + "(" + sub.DisplayName + "): " + sub.Type.String() + "\n")
		}
	}
}
