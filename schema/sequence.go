package schema

import (
	"log/slog"
)

// CycleWarning reports one back-edge found during dependency traversal.
// The cycle is broken at the entity reached last on the traversal path.
type CycleWarning struct {
	Entity    string `json:"entity"`
	DependsOn string `json:"depends_on"`
}

// dependencies returns the set of live keys entity e depends on: keys
// appearing as property reference types (including one level of
// sub-properties) or as relation targets. Self-references are ignored.
func (m *Manager) dependencies(e *Entity) []string {
	seen := make(map[string]bool)
	add := func(key string) {
		if key == "" || key == e.Key || seen[key] {
			return
		}
		if _, live := m.entities[key]; !live {
			return
		}
		seen[key] = true
	}

	for _, propKey := range sortedKeys(e.Properties) {
		def := e.Properties[propKey]
		if def.Type.Kind == ValueEntityRef {
			add(def.Type.Ref)
		}
		for _, subKey := range sortedKeys(def.SubProps) {
			if sub := def.SubProps[subKey]; sub.Type.Kind == ValueEntityRef {
				add(sub.Type.Ref)
			}
		}
	}
	for _, relKey := range sortedKeys(e.Relations) {
		add(e.Relations[relKey].Target)
	}

	deps := make([]string, 0, len(seen))
	for _, key := range m.order {
		if seen[key] {
			deps = append(deps, key)
		}
	}
	return deps
}

// Sequence orders the live entities so that any entity referenced by
// another's properties or relations is emitted first. Cycles do not fail
// the traversal: a back-edge is logged and broken at the entity reached
// last on the current path, which guarantees termination and a total
// order containing every entity exactly once. Entities with no dependency
// edges keep their first-seen order.
func (m *Manager) Sequence() ([]string, []CycleWarning) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current traversal path
		black = 2 // done
	)

	state := make(map[string]int, len(m.entities))
	order := make([]string, 0, len(m.entities))
	var warnings []CycleWarning

	var visit func(key string)
	visit = func(key string) {
		state[key] = gray
		for _, dep := range m.dependencies(m.entities[key]) {
			switch state[dep] {
			case white:
				visit(dep)
			case gray:
				// Back-edge: dep is an ancestor on the current path, so key
				// was reached last. Proceed without descending.
				warnings = append(warnings, CycleWarning{Entity: key, DependsOn: dep})
				slog.Warn("schema: dependency cycle broken during sequencing",
					"entity", key, "depends_on", dep)
			}
		}
		state[key] = black
		order = append(order, key)
	}

	for _, key := range m.order {
		if state[key] == white {
			visit(key)
		}
	}

	return order, warnings
}
