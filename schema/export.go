package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	errMissingNamespace = errors.New("document has no namespace")
	errEmptyEntity      = errors.New("entity entry is empty")
	errBadKey           = errors.New("entity key violates key grammar")
)

// exportDoc is the persisted interchange shape shared by the JSON and YAML
// formats. Statistics are informational on export and ignored on import.
type exportDoc struct {
	Namespace   string             `json:"namespace" yaml:"namespace"`
	Entities    map[string]*Entity `json:"entities" yaml:"entities"`
	EntityOrder []string           `json:"entity_order" yaml:"entity_order"`
	Statistics  Stats              `json:"statistics" yaml:"statistics"`
	ExportTime  string             `json:"export_time" yaml:"export_time"`
}

func (m *Manager) exportDoc() exportDoc {
	return exportDoc{
		Namespace:   m.namespace,
		Entities:    m.entities,
		EntityOrder: m.Keys(),
		Statistics:  m.Statistics(),
		ExportTime:  rfc3339Now(),
	}
}

// ExportJSON renders the full graph as indented JSON.
func (m *Manager) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m.exportDoc(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export schema json: %w", err)
	}
	return data, nil
}

// ExportYAML renders the full graph as tab-indented YAML. The document is
// encoded with two-space indentation first, then every leading indent run
// is mechanically rewritten to tabs.
func (m *Manager) ExportYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m.exportDoc()); err != nil {
		return nil, fmt.Errorf("export schema yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("export schema yaml: %w", err)
	}
	return spacesToTabs(buf.Bytes()), nil
}

// ImportJSON replaces the graph with the contents of a JSON export. On any
// decode or validation error the graph is left unchanged.
func (m *Manager) ImportJSON(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("import schema json: %w", err)
	}
	return m.load(doc)
}

// ImportYAML replaces the graph with the contents of a YAML export,
// reversing the tab re-indentation applied by ExportYAML. On any decode or
// validation error the graph is left unchanged.
func (m *Manager) ImportYAML(data []byte) error {
	var doc exportDoc
	if err := yaml.Unmarshal(tabsToSpaces(data), &doc); err != nil {
		return fmt.Errorf("import schema yaml: %w", err)
	}
	return m.load(doc)
}

// load installs a decoded export atomically: the new state is fully
// validated before anything on the manager is touched.
func (m *Manager) load(doc exportDoc) error {
	if doc.Namespace == "" {
		return fmt.Errorf("import schema: %w", errMissingNamespace)
	}

	entities := make(map[string]*Entity, len(doc.Entities))
	for key, e := range doc.Entities {
		if e == nil {
			return fmt.Errorf("import schema: entity %q: %w", key, errEmptyEntity)
		}
		if e.Key == "" {
			e.Key = key
		}
		if e.Key != key {
			return fmt.Errorf("import schema: entity %q carries key %q", key, e.Key)
		}
		if !ValidKey(key) {
			return fmt.Errorf("import schema: entity %q: %w", key, errBadKey)
		}
		if e.Kind == "" {
			e.Kind = KindObject
		}
		entities[key] = e
	}

	seen := make(map[string]bool, len(doc.EntityOrder))
	order := make([]string, 0, len(entities))
	for _, key := range doc.EntityOrder {
		if _, ok := entities[key]; !ok {
			return fmt.Errorf("import schema: order references unknown entity %q", key)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		order = append(order, key)
	}
	// Entities the order list missed still load, in a stable position.
	var missing []string
	for key := range entities {
		if !seen[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	order = append(order, missing...)

	m.namespace = doc.Namespace
	m.entities = entities
	m.order = order
	m.mergedInto = make(map[string]string)
	m.autoSeq = 0
	m.lastModified = rfc3339Now()
	m.recordModification("imported", "", fmt.Sprintf("%d entities", len(entities)))
	return nil
}

// spacesToTabs rewrites each run of two leading spaces as one tab.
func spacesToTabs(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		n := 0
		for n < len(line) && line[n] == ' ' {
			n++
		}
		if n == 0 {
			continue
		}
		lines[i] = strings.Repeat("\t", n/2) + line[n/2*2:]
	}
	return []byte(strings.Join(lines, "\n"))
}

// tabsToSpaces is the inverse of spacesToTabs.
func tabsToSpaces(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		n := 0
		for n < len(line) && line[n] == '\t' {
			n++
		}
		if n == 0 {
			continue
		}
		lines[i] = strings.Repeat(" ", n*2) + line[n:]
	}
	return []byte(strings.Join(lines, "\n"))
}
