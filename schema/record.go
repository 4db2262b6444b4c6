package schema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one raw candidate entity emitted by the extraction step.
// Everything here is untrusted producer output; the Normalizer decides
// what survives.
type Record struct {
	Name        string                 `json:"name"`
	EnglishName string                 `json:"english_name"`
	ChineseName string                 `json:"chinese_name"`
	DisplayName string                 `json:"display_name"`
	Description string                 `json:"description"`
	Kind        string                 `json:"kind"`
	EntityType  string                 `json:"entity_type"`
	Category    string                 `json:"category"`
	Properties  map[string]RawProperty `json:"properties"`
	Relations   map[string]RawRelation `json:"relations"`
}

// RawProperty accepts either a bare string (treated as a description, the
// shape the original extraction prompt produces) or a structured object.
type RawProperty struct {
	Display     string
	Type        string
	Constraint  string
	Description string
	SubProps    map[string]RawProperty
}

type rawPropertyObject struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Type        string                 `json:"type"`
	ValueType   string                 `json:"value_type"`
	Constraint  string                 `json:"constraint"`
	Description string                 `json:"description"`
	Properties  map[string]RawProperty `json:"properties"`
	SubProps    map[string]RawProperty `json:"sub_properties"`
}

// UnmarshalJSON handles both producer shapes for a property value.
func (p *RawProperty) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = RawProperty{Description: s}
		return nil
	}

	var obj rawPropertyObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("property is neither string nor object: %w", err)
	}

	display := obj.DisplayName
	if display == "" {
		display = obj.Name
	}
	typ := obj.ValueType
	if typ == "" {
		typ = obj.Type
	}
	subs := obj.SubProps
	if subs == nil {
		subs = obj.Properties
	}
	*p = RawProperty{
		Display:     display,
		Type:        typ,
		Constraint:  obj.Constraint,
		Description: obj.Description,
		SubProps:    subs,
	}
	return nil
}

// RawRelation accepts either a plain target string or a structured object.
type RawRelation struct {
	Display    string
	Target     string
	Constraint string
	Properties map[string]RawProperty
}

type rawRelationObject struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	Target      string                 `json:"target"`
	Constraint  string                 `json:"constraint"`
	Properties  map[string]RawProperty `json:"properties"`
}

// UnmarshalJSON handles both producer shapes for a relation value.
func (r *RawRelation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*r = RawRelation{Target: s}
		return nil
	}

	var obj rawRelationObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("relation is neither string nor object: %w", err)
	}

	display := obj.DisplayName
	if display == "" {
		display = obj.Name
	}
	*r = RawRelation{
		Display:    display,
		Target:     obj.Target,
		Constraint: obj.Constraint,
		Properties: obj.Properties,
	}
	return nil
}

// DecodeCandidates parses a producer payload into candidate records.
// Producers have been observed emitting three shapes: a JSON array of
// records, a {"entities": [...]} wrapper, and a dict of records keyed by
// candidate name. All three are accepted; dict keys are folded into the
// record's name field when the record itself lacks one.
func DecodeCandidates(data []byte) ([]Record, error) {
	var list []Record
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var wrapper struct {
		Entities []Record `json:"entities"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Entities != nil {
		return wrapper.Entities, nil
	}

	var dict map[string]Record
	if err := json.Unmarshal(data, &dict); err == nil && len(dict) > 0 {
		names := make([]string, 0, len(dict))
		for name := range dict {
			names = append(names, name)
		}
		sort.Strings(names) // map order is random; keep ingestion deterministic

		records := make([]Record, 0, len(dict))
		for _, name := range names {
			rec := dict[name]
			if rec.Name == "" && rec.EnglishName == "" {
				rec.Name = name
			}
			records = append(records, rec)
		}
		return records, nil
	}

	return nil, fmt.Errorf("candidate payload is not a record list, entities wrapper, or record dict")
}
