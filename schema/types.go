// Package schema implements the OpenSPG schema consistency engine: it
// accumulates entity records produced by LLM extraction into a single
// canonical graph with stable keys, resolvable relation targets and a
// deterministic serialization order.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags an entity with its schema role. The kind determines which
// serialized shape applies: Concept entities never carry a
// properties/relations block.
type Kind string

const (
	KindConcept Kind = "Concept"
	KindObject  Kind = "Object"
	KindEvent   Kind = "Event"
)

// schemaType returns the OpenSPG type name emitted in the schema text.
func (k Kind) schemaType() string {
	switch k {
	case KindConcept:
		return "Concept"
	case KindEvent:
		return "EventType"
	default:
		return "EntityType"
	}
}

// ValueKind discriminates the closed value-type union.
type ValueKind int

const (
	ValueText ValueKind = iota
	ValueInteger
	ValueFloat
	ValueStd       // standardized semantic kind (STD.*)
	ValueEntityRef // reference to another entity's key
)

// StdKind is the closed set of standardized semantic value types.
type StdKind string

const (
	StdDate      StdKind = "Date"
	StdEmail     StdKind = "Email"
	StdPhone     StdKind = "PhoneNumber"
	StdTimestamp StdKind = "Timestamp"
	StdURL       StdKind = "URL"
)

// ValueType is the closed tagged union for property value types:
// Text | Integer | Float | STD.<kind> | <EntityKey>.
type ValueType struct {
	Kind ValueKind
	Std  StdKind // set when Kind == ValueStd
	Ref  string  // entity key, set when Kind == ValueEntityRef
}

// TextType is the default scalar type unrecognized producer types coerce to.
var TextType = ValueType{Kind: ValueText}

func (v ValueType) String() string {
	switch v.Kind {
	case ValueInteger:
		return "Integer"
	case ValueFloat:
		return "Float"
	case ValueStd:
		return "STD." + string(v.Std)
	case ValueEntityRef:
		return v.Ref
	default:
		return "Text"
	}
}

// IsScalar reports whether the type is a basic scalar (Text/Integer/Float).
// Relation-scoped properties are restricted to scalar types.
func (v ValueType) IsScalar() bool {
	return v.Kind == ValueText || v.Kind == ValueInteger || v.Kind == ValueFloat
}

// stdKinds maps both canonical and producer-friendly spellings to StdKind.
var stdKinds = map[string]StdKind{
	"date":        StdDate,
	"email":       StdEmail,
	"phone":       StdPhone,
	"phonenumber": StdPhone,
	"tel":         StdPhone,
	"timestamp":   StdTimestamp,
	"datetime":    StdTimestamp,
	"url":         StdURL,
	"link":        StdURL,
}

// ParseValueType maps a producer-supplied type string onto the closed union.
// Recognized scalars and standard kinds parse directly; any other string that
// satisfies the key grammar is treated as an entity reference (resolved or
// stubbed by the validation pass). Everything else fails, and the caller
// coerces to Text with a warning.
func ParseValueType(s string) (ValueType, error) {
	t := strings.TrimSpace(s)
	switch strings.ToLower(t) {
	case "", "text", "string", "str":
		return ValueType{Kind: ValueText}, nil
	case "integer", "int", "long":
		return ValueType{Kind: ValueInteger}, nil
	case "float", "double", "number":
		return ValueType{Kind: ValueFloat}, nil
	}
	if rest, ok := strings.CutPrefix(t, "STD."); ok {
		if std, ok := stdKinds[strings.ToLower(rest)]; ok {
			return ValueType{Kind: ValueStd, Std: std}, nil
		}
		return ValueType{}, fmt.Errorf("unknown standard type %q", t)
	}
	if std, ok := stdKinds[strings.ToLower(t)]; ok {
		return ValueType{Kind: ValueStd, Std: std}, nil
	}
	if ValidKey(t) {
		return ValueType{Kind: ValueEntityRef, Ref: t}, nil
	}
	return ValueType{}, fmt.Errorf("unrecognized value type %q", t)
}

// MarshalJSON renders the union as its schema string form.
func (v ValueType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON parses the schema string form back into the union.
func (v *ValueType) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := ParseValueType(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML renders the union as its schema string form.
func (v ValueType) MarshalYAML() (interface{}, error) {
	return v.String(), nil
}

// UnmarshalYAML parses the schema string form back into the union.
func (v *ValueType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseValueType(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Constraint is the closed constraint vocabulary for properties and relations.
type Constraint string

const (
	ConstraintNotNull    Constraint = "NotNull"
	ConstraintMultiValue Constraint = "MultiValue"
	ConstraintEnum       Constraint = "Enum"
	ConstraintRegular    Constraint = "Regular"
)

// ParseConstraint validates a producer-supplied constraint string.
// An empty string means "no constraint" and is valid.
func ParseConstraint(s string) (Constraint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "notnull", "not_null", "required":
		return ConstraintNotNull, nil
	case "multivalue", "multi_value":
		return ConstraintMultiValue, nil
	case "enum":
		return ConstraintEnum, nil
	case "regular", "regex":
		return ConstraintRegular, nil
	}
	return "", fmt.Errorf("unknown constraint %q", s)
}

// PropertyDef describes one property on an entity.
type PropertyDef struct {
	DisplayName string                  `json:"display_name" yaml:"display_name"`
	Type        ValueType               `json:"value_type" yaml:"value_type"`
	Constraint  Constraint              `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	SubProps    map[string]*PropertyDef `json:"sub_properties,omitempty" yaml:"sub_properties,omitempty"` // one level only
}

// RelationDef describes one outgoing relation edge on an entity.
// Target always stores a canonical entity key after a validation pass;
// Aliases collects display names of relations that were collapsed into
// this edge because they resolved to the same target.
type RelationDef struct {
	DisplayName string                  `json:"display_name" yaml:"display_name"`
	Target      string                  `json:"target" yaml:"target"`
	Aliases     []string                `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Constraint  Constraint              `json:"constraint,omitempty" yaml:"constraint,omitempty"`
	Properties  map[string]*PropertyDef `json:"properties,omitempty" yaml:"properties,omitempty"` // scalar types only
}

// Entity is the unit of the schema graph.
type Entity struct {
	Key            string                  `json:"key" yaml:"key"`
	DisplayName    string                  `json:"display_name" yaml:"display_name"`
	Description    string                  `json:"description,omitempty" yaml:"description,omitempty"`
	Kind           Kind                    `json:"kind" yaml:"kind"`
	LegacyCategory string                  `json:"legacy_category,omitempty" yaml:"legacy_category,omitempty"`
	Properties     map[string]*PropertyDef `json:"properties,omitempty" yaml:"properties,omitempty"`
	Relations      map[string]*RelationDef `json:"relations,omitempty" yaml:"relations,omitempty"`
	AutoCreated    bool                    `json:"auto_created,omitempty" yaml:"auto_created,omitempty"`
	CreatedAt      string                  `json:"created_at" yaml:"created_at"`
	LastModified   string                  `json:"last_modified" yaml:"last_modified"`
}

// display returns the human-readable label, falling back to the key.
func (e *Entity) display() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Key
}

// maxKeyLen is the hard cap on canonical key length.
const maxKeyLen = 50

var keyRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// ValidKey reports whether s satisfies the canonical key grammar:
// starts with a letter, letters and digits only, at most 50 characters.
func ValidKey(s string) bool {
	return len(s) > 0 && len(s) <= maxKeyLen && keyRe.MatchString(s)
}
