package schema

import (
	"log/slog"
	"strings"
	"time"
)

// historyCap bounds the modification log so long-lived managers do not grow
// without limit.
const historyCap = 1000

// Manager owns the entity graph. It is the single mutable owner of every
// entity: normalization, merging, validation and serialization all run
// through it. A Manager is not safe for concurrent use; callers that share
// one across goroutines must serialize access themselves.
type Manager struct {
	namespace  string
	entities   map[string]*Entity
	order      []string
	mergedInto map[string]string
	mergeCfg   MergeConfig
	autoSeq    int
	history    []Modification

	createdAt    string
	lastModified string
}

// Modification is one entry in the manager's change log.
type Modification struct {
	Time   string `json:"time"`
	Action string `json:"action"`
	Entity string `json:"entity"`
	Detail string `json:"detail,omitempty"`
}

// BatchResult summarizes one ingestion pass over a batch of candidate
// records. Rejections and warnings are informational: the batch itself
// never fails.
type BatchResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	// Skipped counts records rejected during normalization. Valid records
	// that change nothing are counted in Unchanged instead.
	Skipped    int         `json:"skipped"`
	Unchanged  int         `json:"unchanged"`
	Warnings   []Warning   `json:"warnings,omitempty"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Stats is a point-in-time summary of the graph.
type Stats struct {
	Namespace    string         `json:"namespace"`
	Total        int            `json:"total_entities"`
	ByKind       map[string]int `json:"by_kind"`
	AutoCreated  int            `json:"auto_created"`
	Properties   int            `json:"total_properties"`
	Relations    int            `json:"total_relations"`
	Merged       int            `json:"merged_entities"`
	CreatedAt    string         `json:"created_at"`
	LastModified string         `json:"last_modified"`
}

// NewManager creates an empty graph under the given namespace with the
// default merge configuration.
func NewManager(namespace string) *Manager {
	now := rfc3339Now()
	return &Manager{
		namespace:    namespace,
		entities:     make(map[string]*Entity),
		mergedInto:   make(map[string]string),
		mergeCfg:     DefaultMergeConfig(),
		createdAt:    now,
		lastModified: now,
	}
}

// SetMergeConfig replaces the duplicate-detection thresholds used by
// MergeDuplicates.
func (m *Manager) SetMergeConfig(cfg MergeConfig) { m.mergeCfg = cfg }

// Namespace returns the schema namespace.
func (m *Manager) Namespace() string { return m.namespace }

// SetNamespace renames the schema namespace.
func (m *Manager) SetNamespace(ns string) {
	if ns == m.namespace {
		return
	}
	m.namespace = ns
	m.lastModified = rfc3339Now()
}

// Len returns the number of live entities.
func (m *Manager) Len() int { return len(m.entities) }

// Get looks up an entity by canonical key, following merge redirects so a
// key that lost a merge still finds its survivor.
func (m *Manager) Get(key string) (*Entity, bool) {
	e, ok := m.entities[m.canonical(key)]
	return e, ok
}

// Keys returns the canonical keys in first-seen order.
func (m *Manager) Keys() []string {
	keys := make([]string, len(m.order))
	copy(keys, m.order)
	return keys
}

// Entities returns the live entities in first-seen order.
func (m *Manager) Entities() []*Entity {
	out := make([]*Entity, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.entities[key])
	}
	return out
}

// History returns the modification log, oldest first.
func (m *Manager) History() []Modification {
	out := make([]Modification, len(m.history))
	copy(out, m.history)
	return out
}

// Ingest normalizes a batch of candidate records into the graph. Records
// that fail normalization are skipped and reported; a record whose key
// already exists updates the existing entity, filling gaps without
// overwriting anything already present.
func (m *Manager) Ingest(records []Record) *BatchResult {
	res := &BatchResult{}
	var norm Normalizer

	for _, rec := range records {
		e, warnings, rej := norm.Normalize(rec)
		res.Warnings = append(res.Warnings, warnings...)
		if rej != nil {
			res.Skipped++
			res.Rejections = append(res.Rejections, *rej)
			slog.Debug("schema: record rejected",
				"name", rej.Name, "reason", rej.Reason.String())
			continue
		}

		key := m.canonical(e.Key)
		if existing, ok := m.entities[key]; ok {
			if m.updateEntity(existing, e) {
				res.Updated++
			} else {
				res.Unchanged++
			}
			continue
		}
		m.insert(e)
		m.recordModification("created", e.Key, "")
		res.Created++
	}

	slog.Info("schema: batch ingested",
		"created", res.Created, "updated", res.Updated,
		"unchanged", res.Unchanged, "skipped", res.Skipped)
	return res
}

// IngestJSON decodes a producer payload and ingests the records it holds.
func (m *Manager) IngestJSON(data []byte) (*BatchResult, error) {
	records, err := DecodeCandidates(data)
	if err != nil {
		return nil, err
	}
	return m.Ingest(records), nil
}

// Search returns entities whose key, display name or description contains
// the query, case-insensitively, in first-seen order.
func (m *Manager) Search(query string) []*Entity {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []*Entity
	for _, key := range m.order {
		e := m.entities[key]
		if strings.Contains(strings.ToLower(e.Key), q) ||
			strings.Contains(strings.ToLower(e.DisplayName), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes an entity by key. Edges pointing at the removed entity are
// left in place; the next validation pass recreates the target as a stub.
func (m *Manager) Remove(key string) bool {
	key = m.canonical(key)
	if _, ok := m.entities[key]; !ok {
		return false
	}
	delete(m.entities, key)
	m.removeFromOrder(key)
	for loser, winner := range m.mergedInto {
		if winner == key {
			delete(m.mergedInto, loser)
		}
	}
	m.recordModification("removed", key, "")
	m.lastModified = rfc3339Now()
	return true
}

// Statistics summarizes the current graph.
func (m *Manager) Statistics() Stats {
	st := Stats{
		Namespace:    m.namespace,
		Total:        len(m.entities),
		ByKind:       make(map[string]int),
		Merged:       len(m.mergedInto),
		CreatedAt:    m.createdAt,
		LastModified: m.lastModified,
	}
	for _, e := range m.entities {
		st.ByKind[string(e.Kind)]++
		if e.AutoCreated {
			st.AutoCreated++
		}
		st.Properties += len(e.Properties)
		st.Relations += len(e.Relations)
	}
	return st
}

// updateEntity folds a re-extracted record into an existing entity.
// Existing values win; the update only fills gaps and adds new properties
// and relations. Returns whether anything changed.
func (m *Manager) updateEntity(existing, incoming *Entity) bool {
	changed := false

	if incoming.DisplayName != "" && incoming.DisplayName != incoming.Key &&
		(existing.DisplayName == "" || existing.DisplayName == existing.Key) &&
		existing.DisplayName != incoming.DisplayName {
		existing.DisplayName = incoming.DisplayName
		changed = true
	}
	if existing.Description == "" && incoming.Description != "" {
		existing.Description = incoming.Description
		changed = true
	}
	if existing.LegacyCategory == "" && incoming.LegacyCategory != "" {
		existing.LegacyCategory = incoming.LegacyCategory
		changed = true
	}

	for _, key := range sortedKeys(incoming.Properties) {
		if cur, ok := existing.Properties[key]; ok {
			if backfillProperty(cur, incoming.Properties[key]) {
				changed = true
			}
			continue
		}
		if existing.Properties == nil {
			existing.Properties = make(map[string]*PropertyDef)
		}
		existing.Properties[key] = incoming.Properties[key]
		changed = true
	}
	for _, key := range sortedKeys(incoming.Relations) {
		if cur, ok := existing.Relations[key]; ok {
			if backfillRelation(cur, incoming.Relations[key]) {
				changed = true
			}
			continue
		}
		if existing.Relations == nil {
			existing.Relations = make(map[string]*RelationDef)
		}
		existing.Relations[key] = incoming.Relations[key]
		changed = true
	}

	if changed {
		m.touch(existing)
		m.recordModification("updated", existing.Key, "")
	}
	return changed
}

// insert adds a brand new entity to the live set, stamping timestamps when
// the caller left them empty.
func (m *Manager) insert(e *Entity) {
	now := rfc3339Now()
	if e.CreatedAt == "" {
		e.CreatedAt = now
	}
	if e.LastModified == "" {
		e.LastModified = now
	}
	m.entities[e.Key] = e
	m.order = append(m.order, e.Key)
	m.lastModified = now
}

// touch stamps an entity and the graph as just modified.
func (m *Manager) touch(e *Entity) {
	now := rfc3339Now()
	e.LastModified = now
	m.lastModified = now
}

func (m *Manager) removeFromOrder(key string) {
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) recordModification(action, key, detail string) {
	m.history = append(m.history, Modification{
		Time:   rfc3339Now(),
		Action: action,
		Entity: key,
		Detail: detail,
	})
	if len(m.history) > historyCap {
		m.history = m.history[len(m.history)-historyCap:]
	}
}

func rfc3339Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
