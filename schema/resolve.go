package schema

// resolver is the bidirectional name index over the live entity set.
// It answers exact lookups only; fuzzy matching belongs to the duplicate
// detector. Rebuilt after any change to the entity set (O(n), cheap at the
// graph sizes this engine sees).
type resolver struct {
	byKey     map[string]*Entity
	byDisplay map[string]string // display name -> key (first-seen wins)
}

// buildResolver indexes the live entities in first-seen order, so a display
// name shared by several entities deterministically maps to the earliest.
func (m *Manager) buildResolver() *resolver {
	r := &resolver{
		byKey:     make(map[string]*Entity, len(m.entities)),
		byDisplay: make(map[string]string, len(m.entities)),
	}
	for _, key := range m.order {
		e := m.entities[key]
		r.byKey[key] = e
		if e.DisplayName != "" {
			if _, taken := r.byDisplay[e.DisplayName]; !taken {
				r.byDisplay[e.DisplayName] = key
			}
		}
	}
	return r
}

// resolve maps a name-or-key onto a canonical key: exact key match first,
// then exact display-name match. Returns "" when nothing matches.
func (r *resolver) resolve(nameOrKey string) string {
	if _, ok := r.byKey[nameOrKey]; ok {
		return nameOrKey
	}
	if key, ok := r.byDisplay[nameOrKey]; ok {
		return key
	}
	return ""
}

// Resolve maps a name-or-key onto the canonical key of a live entity,
// following merge redirects for keys that were folded into a survivor.
// The boolean reports whether anything matched.
func (m *Manager) Resolve(nameOrKey string) (string, bool) {
	if redirected, ok := m.redirect(nameOrKey); ok {
		return redirected, true
	}
	key := m.buildResolver().resolve(nameOrKey)
	return key, key != ""
}

// canonical maps a key onto its surviving key, returning the input
// unchanged when it was never merged away.
func (m *Manager) canonical(key string) string {
	if survivor, ok := m.redirect(key); ok {
		return survivor
	}
	return key
}

// redirect follows the merge redirect table transitively, returning the
// surviving key for a name that was merged away.
func (m *Manager) redirect(key string) (string, bool) {
	survivor, ok := m.mergedInto[key]
	if !ok {
		return "", false
	}
	for {
		next, ok := m.mergedInto[survivor]
		if !ok {
			return survivor, true
		}
		survivor = next
	}
}
