package schema

import (
	"log/slog"
	"sort"
	"strings"
)

// MergeConfig holds the duplicate-similarity thresholds. These are heuristic
// constants, not proven rules; callers tuning them trade false merges
// against false splits.
type MergeConfig struct {
	// MinSubstringLen is the minimum normalized-key length for the
	// substring containment condition to fire.
	MinSubstringLen int `json:"min_substring_len" yaml:"min_substring_len"`

	// JaccardThreshold is the minimum whitespace-token Jaccard similarity
	// between two descriptions for them to count as duplicates.
	JaccardThreshold float64 `json:"jaccard_threshold" yaml:"jaccard_threshold"`

	// MinDescriptionLen is the minimum description length (in runes) for
	// the Jaccard condition to apply.
	MinDescriptionLen int `json:"min_description_len" yaml:"min_description_len"`
}

// DefaultMergeConfig returns the stock thresholds.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		MinSubstringLen:   5,
		JaccardThreshold:  0.7,
		MinDescriptionLen: 20,
	}
}

// MergeCluster reports one duplicate cluster that was folded together.
// AddedProperties and AddedRelations list only the keys the survivor gained,
// so change logs stay small.
type MergeCluster struct {
	Survivor        string   `json:"survivor"`
	Merged          []string `json:"merged"`
	AddedProperties []string `json:"added_properties,omitempty"`
	AddedRelations  []string `json:"added_relations,omitempty"`
}

// MergeReport summarizes a MergeDuplicates pass.
type MergeReport struct {
	Clusters []MergeCluster `json:"clusters"`
}

// normalizeKey lowercases a key and strips separator characters so that
// "SprayedConcrete", "sprayed_concrete" and "sprayed-concrete" compare equal.
func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if r == '-' || r == '_' || r == ' ' || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// jaccard computes Jaccard similarity over whitespace tokens.
func jaccard(a, b string) float64 {
	setA := map[string]bool{}
	for _, tok := range strings.Fields(a) {
		setA[tok] = true
	}
	setB := map[string]bool{}
	for _, tok := range strings.Fields(b) {
		setB[tok] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for tok := range setA {
		if setB[tok] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

// likelyDuplicates applies the cheap necessary conditions that qualify a
// pair of entities as candidates for the same concept.
func (cfg MergeConfig) likelyDuplicates(a, b *Entity) bool {
	na, nb := normalizeKey(a.Key), normalizeKey(b.Key)
	if na == nb {
		return true
	}
	if a.DisplayName != "" && a.DisplayName == b.DisplayName {
		return true
	}
	if len(na) > cfg.MinSubstringLen && len(nb) > cfg.MinSubstringLen &&
		(strings.Contains(na, nb) || strings.Contains(nb, na)) {
		return true
	}
	if len([]rune(a.Description)) >= cfg.MinDescriptionLen &&
		len([]rune(b.Description)) >= cfg.MinDescriptionLen &&
		jaccard(a.Description, b.Description) >= cfg.JaccardThreshold {
		return true
	}
	return false
}

// canonicalScore ranks an entity as a merge survivor candidate. Shorter
// keys, richer descriptions, a distinct display name, and more structure
// all make an entity a better canonical representative.
func canonicalScore(e *Entity) int {
	score := 0
	if l := len(e.Key); l < 30 {
		score += 30 - l
	}
	switch dl := len([]rune(e.Description)); {
	case dl >= 100:
		score += 30
	case dl >= 30:
		score += 20
	case dl > 0:
		score += 10
	}
	if e.DisplayName != "" && e.DisplayName != e.Key {
		score += 10
	}
	score += 2 * minInt(len(e.Properties), 10)
	score += 2 * minInt(len(e.Relations), 10)
	if isAlphanumeric(e.Key) {
		score += 10
	}
	return score
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return s != ""
}

// MergeDuplicates finds clusters of entities that likely denote the same
// concept and folds each cluster into one surviving canonical entity.
// The pass is idempotent: a graph that was already merged produces an empty
// report. Relation edges elsewhere that still target a merged-away key are
// repointed by the next ValidateRelations pass via the redirect table.
func (m *Manager) MergeDuplicates() *MergeReport {
	report := &MergeReport{}

	keys := append([]string(nil), m.order...)
	index := make(map[string]int, len(keys))
	for i, k := range keys {
		index[k] = i
	}

	// Union-find over first-seen indices.
	parent := make([]int, len(keys))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			if rb < ra {
				ra, rb = rb, ra
			}
			parent[rb] = ra
		}
	}

	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if m.mergeCfg.likelyDuplicates(m.entities[keys[i]], m.entities[keys[j]]) {
				union(i, j)
			}
		}
	}

	// Collect clusters of size >= 2 keyed by root, members in first-seen order.
	clusters := make(map[int][]string)
	for i, k := range keys {
		clusters[find(i)] = append(clusters[find(i)], k)
	}
	roots := make([]int, 0, len(clusters))
	for root, members := range clusters {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	for _, root := range roots {
		members := clusters[root]

		survivor := members[0]
		best := canonicalScore(m.entities[survivor])
		for _, k := range members[1:] {
			if s := canonicalScore(m.entities[k]); s > best {
				survivor, best = k, s
			}
			// Ties keep the earlier first-seen entity, already held.
		}

		cluster := MergeCluster{Survivor: survivor}
		for _, k := range members {
			if k == survivor {
				continue
			}
			addedProps, addedRels := m.mergeInto(m.entities[survivor], m.entities[k])
			cluster.Merged = append(cluster.Merged, k)
			cluster.AddedProperties = append(cluster.AddedProperties, addedProps...)
			cluster.AddedRelations = append(cluster.AddedRelations, addedRels...)

			slog.Debug("schema: merged duplicate entity",
				"survivor", survivor, "merged", k)
		}
		m.recordModification("merged", survivor,
			strings.Join(cluster.Merged, ", ")+" folded in")
		report.Clusters = append(report.Clusters, cluster)
	}

	return report
}

// mergeInto folds loser into survivor without information loss, removes the
// loser from the live set, and installs a redirect so later passes can
// repoint edges. Returns the property and relation keys the survivor gained.
func (m *Manager) mergeInto(survivor, loser *Entity) (addedProps, addedRels []string) {
	if survivor.DisplayName == "" {
		survivor.DisplayName = loser.DisplayName
	}
	if survivor.Description == "" {
		survivor.Description = loser.Description
	}
	if survivor.LegacyCategory == "" {
		survivor.LegacyCategory = loser.LegacyCategory
	}

	for _, propKey := range sortedKeys(loser.Properties) {
		def := loser.Properties[propKey]
		existing, ok := survivor.Properties[propKey]
		if !ok {
			if survivor.Properties == nil {
				survivor.Properties = make(map[string]*PropertyDef)
			}
			survivor.Properties[propKey] = def
			addedProps = append(addedProps, propKey)
			continue
		}
		backfillProperty(existing, def)
	}

	for _, relKey := range sortedKeys(loser.Relations) {
		def := loser.Relations[relKey]
		existing, ok := survivor.Relations[relKey]
		if !ok {
			if survivor.Relations == nil {
				survivor.Relations = make(map[string]*RelationDef)
			}
			survivor.Relations[relKey] = def
			addedRels = append(addedRels, relKey)
			continue
		}
		backfillRelation(existing, def)
	}

	delete(m.entities, loser.Key)
	m.removeFromOrder(loser.Key)

	// Re-chain prior redirects so old loser keys still land on the final
	// survivor, then record the new one.
	for old, target := range m.mergedInto {
		if target == loser.Key {
			m.mergedInto[old] = survivor.Key
		}
	}
	m.mergedInto[loser.Key] = survivor.Key

	m.touch(survivor)
	return addedProps, addedRels
}

// backfillProperty fills sub-fields missing on dst from src. The existing
// (first-seen) definition wins on every field it already has. Returns
// whether anything changed.
func backfillProperty(dst, src *PropertyDef) bool {
	changed := false
	if dst.DisplayName == "" && src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
		changed = true
	}
	if dst.Constraint == "" && src.Constraint != "" {
		dst.Constraint = src.Constraint
		changed = true
	}
	for _, subKey := range sortedKeys(src.SubProps) {
		if dst.SubProps == nil {
			dst.SubProps = make(map[string]*PropertyDef)
		}
		if existing, ok := dst.SubProps[subKey]; ok {
			if backfillProperty(existing, src.SubProps[subKey]) {
				changed = true
			}
		} else {
			dst.SubProps[subKey] = src.SubProps[subKey]
			changed = true
		}
	}
	return changed
}

// backfillRelation fills sub-fields missing on dst from src and unions the
// alias sets. Returns whether anything changed.
func backfillRelation(dst, src *RelationDef) bool {
	changed := false
	if dst.DisplayName == "" && src.DisplayName != "" {
		dst.DisplayName = src.DisplayName
		changed = true
	}
	if dst.Constraint == "" && src.Constraint != "" {
		dst.Constraint = src.Constraint
		changed = true
	}
	if merged := unionAliases(dst.Aliases, src.Aliases); len(merged) != len(dst.Aliases) {
		dst.Aliases = merged
		changed = true
	}
	for _, propKey := range sortedKeys(src.Properties) {
		if dst.Properties == nil {
			dst.Properties = make(map[string]*PropertyDef)
		}
		if existing, ok := dst.Properties[propKey]; ok {
			if backfillProperty(existing, src.Properties[propKey]) {
				changed = true
			}
		} else {
			dst.Properties[propKey] = src.Properties[propKey]
			changed = true
		}
	}
	return changed
}

// unionAliases merges alias sets keeping a sorted, deduplicated slice.
func unionAliases(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	merged := append([]string(nil), a...)
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			merged = append(merged, s)
		}
	}
	sort.Strings(merged)
	return merged
}

// sortedKeys returns map keys in sorted order for deterministic iteration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
