package schema

import (
	"fmt"
	"log/slog"
)

// StubRecord reports one entity auto-created to complete a dangling
// relation target.
type StubRecord struct {
	Key       string `json:"key"`
	Referrer  string `json:"referrer"`
	RawTarget string `json:"raw_target"`
}

// CollapsedRelation reports one relation entry folded into another because
// both resolved to the same target.
type CollapsedRelation struct {
	Entity  string `json:"entity"`
	Kept    string `json:"kept"`
	Removed string `json:"removed"`
	Target  string `json:"target"`
}

// ValidateReport summarizes a ValidateRelations pass.
type ValidateReport struct {
	RewrittenTargets int                 `json:"rewritten_targets"`
	Stubs            []StubRecord        `json:"stubs,omitempty"`
	Collapsed        []CollapsedRelation `json:"collapsed,omitempty"`
}

// ValidateRelations restores referential integrity across the whole graph:
// every relation target is rewritten to a canonical key, unresolvable
// targets get a stub entity, and relations on the same entity that resolve
// to the same target are collapsed into one edge with aliases. No edge is
// ever dropped. The pass is idempotent.
func (m *Manager) ValidateRelations() *ValidateReport {
	report := &ValidateReport{}

	for _, key := range append([]string(nil), m.order...) {
		e := m.entities[key]
		if len(e.Relations) == 0 {
			continue
		}

		changed := false
		res := m.buildResolver()

		// Resolve every target to a canonical key, stubbing when needed.
		for _, relKey := range sortedKeys(e.Relations) {
			rel := e.Relations[relKey]
			resolved, created := m.resolveOrStub(res, e.Key, rel.Target, report)
			if created {
				res = m.buildResolver() // the stub is now live
			}
			if resolved != rel.Target {
				rel.Target = resolved
				report.RewrittenTargets++
				changed = true
			}
		}

		// Collapse relations sharing a target: the first (in key order) stays
		// primary, the rest contribute their display names as aliases.
		primaryByTarget := make(map[string]string)
		for _, relKey := range sortedKeys(e.Relations) {
			rel := e.Relations[relKey]
			primaryKey, ok := primaryByTarget[rel.Target]
			if !ok {
				primaryByTarget[rel.Target] = relKey
				continue
			}
			primary := e.Relations[primaryKey]
			primary.Aliases = unionAliases(primary.Aliases,
				append([]string{rel.DisplayName}, rel.Aliases...))
			if primary.Constraint == "" {
				primary.Constraint = rel.Constraint
			}
			for _, propKey := range sortedKeys(rel.Properties) {
				if primary.Properties == nil {
					primary.Properties = make(map[string]*PropertyDef)
				}
				if _, exists := primary.Properties[propKey]; !exists {
					primary.Properties[propKey] = rel.Properties[propKey]
				}
			}
			delete(e.Relations, relKey)
			report.Collapsed = append(report.Collapsed, CollapsedRelation{
				Entity:  e.Key,
				Kept:    primaryKey,
				Removed: relKey,
				Target:  rel.Target,
			})
			changed = true
			slog.Debug("schema: collapsed duplicate relation",
				"entity", e.Key, "kept", primaryKey, "removed", relKey, "target", rel.Target)
		}

		if changed {
			m.touch(e)
		}
	}

	return report
}

// resolveOrStub maps a raw relation target onto a live canonical key,
// creating a minimal stub entity when nothing matches. The returned bool
// reports whether a stub was created.
func (m *Manager) resolveOrStub(res *resolver, referrer, rawTarget string, report *ValidateReport) (string, bool) {
	if survivor, ok := m.redirect(rawTarget); ok {
		return survivor, false
	}
	if key := res.resolve(rawTarget); key != "" {
		return key, false
	}

	stubKey := rawTarget
	display := rawTarget
	if !ValidKey(stubKey) {
		// The raw target is a display name that cannot serve as a key
		// (e.g. a Chinese label). Mint a key and keep the label so later
		// records can still resolve against it.
		stubKey = m.nextAutoKey()
	}

	stub := &Entity{
		Key:         stubKey,
		DisplayName: display,
		Description: fmt.Sprintf("Referenced as a relation target by %s before being extracted.", referrer),
		Kind:        KindObject,
		AutoCreated: true,
	}
	m.insert(stub)
	m.recordModification("stub_created", stubKey, "inferred from relation on "+referrer)
	report.Stubs = append(report.Stubs, StubRecord{
		Key:       stubKey,
		Referrer:  referrer,
		RawTarget: rawTarget,
	})
	slog.Warn("schema: auto-created stub entity for unresolved relation target",
		"target", rawTarget, "stub", stubKey, "referrer", referrer)
	return stubKey, true
}

// nextAutoKey mints an unused key for a stub whose raw target cannot be a
// key itself.
func (m *Manager) nextAutoKey() string {
	for i := m.autoSeq + 1; ; i++ {
		key := fmt.Sprintf("AutoEntity%d", i)
		if _, exists := m.entities[key]; !exists {
			if _, merged := m.mergedInto[key]; !merged {
				m.autoSeq = i
				return key
			}
		}
	}
}
