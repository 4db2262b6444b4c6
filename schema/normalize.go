package schema

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// RejectReason enumerates why the Normalizer refused a candidate record.
// Name quality is load-bearing for downstream resolution, so bad keys are
// rejected rather than silently coerced.
type RejectReason int

const (
	RejectMissingName RejectReason = iota
	RejectBadKeyGrammar
	RejectPinyinKey
	RejectDegenerateName
)

func (r RejectReason) String() string {
	switch r {
	case RejectMissingName:
		return "missing name"
	case RejectBadKeyGrammar:
		return "key violates naming grammar"
	case RejectPinyinKey:
		return "key looks like romanized pinyin"
	case RejectDegenerateName:
		return "name is a parenthesized qualifier"
	default:
		return "rejected"
	}
}

// Rejection describes a refused record.
type Rejection struct {
	Reason RejectReason
	Name   string // best available name from the record, for logging
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("record %q rejected: %s", r.Name, r.Reason)
}

// Warning records a non-fatal coercion applied during normalization.
type Warning struct {
	Entity  string
	Field   string
	Message string
}

// Normalizer validates and canonicalizes raw candidate records.
type Normalizer struct{}

// degenerateRe matches qualifier-only tokens wrapped in (half or full width)
// parentheses, e.g. "(可选)" or "（约束）". Degenerate extraction emits its own
// field labels as entity names in this shape; they must not enter the graph.
var degenerateRe = regexp.MustCompile(`^[（(][^（()）]*[)）]$`)

// pinyinSyllables is a small held-out list of common Mandarin syllables used
// to spot romanized keys like "PenSheHunNingTu". It does not need to be
// complete; three or more recognized syllables is already a strong signal.
var pinyinSyllables = map[string]bool{
	"an": true, "ban": true, "bao": true, "bei": true, "ben": true,
	"bi": true, "bian": true, "biao": true, "bu": true, "cai": true,
	"ceng": true, "cha": true, "chang": true, "che": true, "chen": true,
	"cheng": true, "chu": true, "chuan": true, "ci": true, "cun": true,
	"da": true, "dao": true, "de": true, "di": true, "dian": true,
	"diao": true, "ding": true, "dong": true, "du": true, "duan": true,
	"fa": true, "fang": true, "fen": true, "feng": true, "fu": true,
	"gai": true, "gang": true, "gao": true, "ge": true, "gong": true,
	"gou": true, "gu": true, "guan": true, "gui": true, "guo": true,
	"hai": true, "han": true, "hao": true, "he": true, "heng": true,
	"hu": true, "hua": true, "huan": true, "hun": true, "huo": true,
	"ji": true, "jia": true, "jian": true, "jiang": true, "jiao": true,
	"jie": true, "jin": true, "jing": true, "ju": true, "jun": true,
	"kai": true, "kan": true, "kong": true, "kou": true, "kuai": true,
	"kuang": true, "lan": true, "lao": true, "li": true, "lian": true,
	"liang": true, "liao": true, "lin": true, "ling": true, "liu": true,
	"lu": true, "luo": true, "ma": true, "mao": true, "mei": true,
	"men": true, "mian": true, "miao": true, "ming": true, "mo": true,
	"mu": true, "nei": true, "neng": true, "ni": true, "nian": true,
	"ning": true, "pai": true, "pan": true, "pei": true, "pen": true,
	"peng": true, "pian": true, "pin": true, "ping": true, "qi": true,
	"qian": true, "qiang": true, "qiao": true, "qing": true, "qu": true,
	"quan": true, "ran": true, "re": true, "ren": true, "ri": true,
	"rong": true, "ru": true, "san": true, "se": true, "sha": true,
	"shan": true, "shang": true, "she": true, "shen": true, "sheng": true,
	"shi": true, "shu": true, "shui": true, "si": true, "song": true,
	"sui": true, "suo": true, "ta": true, "tai": true, "tan": true,
	"tang": true, "ti": true, "tian": true, "tiao": true, "tie": true,
	"ting": true, "tong": true, "tu": true, "tuan": true, "wai": true,
	"wan": true, "wang": true, "wei": true, "wen": true, "wu": true,
	"xi": true, "xia": true, "xian": true, "xiang": true, "xiao": true,
	"xie": true, "xin": true, "xing": true, "xu": true, "xue": true,
	"yan": true, "yang": true, "yao": true, "ye": true, "yi": true,
	"yin": true, "ying": true, "yong": true, "you": true, "yu": true,
	"yuan": true, "yue": true, "yun": true, "zai": true, "zao": true,
	"zha": true, "zhan": true, "zhang": true, "zhao": true, "zhe": true,
	"zhen": true, "zheng": true, "zhi": true, "zhong": true, "zhou": true,
	"zhu": true, "zhuan": true, "zhuang": true, "zi": true, "zong": true,
	"zu": true, "zuo": true,
}

// looksLikePinyin reports whether key reads as a run of capitalized Mandarin
// syllables. Extraction sometimes romanizes a Chinese name instead of
// translating it; such keys resolve to nothing downstream and are rejected.
func looksLikePinyin(key string) bool {
	segments := splitCamel(key)
	if len(segments) < 3 {
		return false
	}
	matched := 0
	for _, seg := range segments {
		if pinyinSyllables[strings.ToLower(seg)] {
			matched++
		}
	}
	return matched*5 >= len(segments)*4 // at least 80% recognized syllables
}

// splitCamel splits "PenSheHunNingTu" into its capitalized runs.
func splitCamel(s string) []string {
	var segments []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			segments = append(segments, s[start:i])
			start = i
		}
	}
	if start < len(s) {
		segments = append(segments, s[start:])
	}
	return segments
}

// propKeyCleanRe keeps word characters and CJK for property keys.
var propKeyCleanRe = regexp.MustCompile(`[^\w\p{Han}]`)

// cleanPropertyKey sanitizes a producer property key. Property keys are not
// held to the entity key grammar, but stray punctuation is stripped and a
// non-letter first character gets a prefix.
func cleanPropertyKey(key string) string {
	cleaned := propKeyCleanRe.ReplaceAllString(key, "")
	if cleaned == "" {
		return "customProperty"
	}
	first := []rune(cleaned)[0]
	if !unicode.IsLetter(first) {
		cleaned = "prop" + cleaned
	}
	return cleaned
}

// kindFromRecord determines the entity kind from the record's explicit
// kind/entity_type field, falling back to category keywords the way the
// original category mapping did.
func kindFromRecord(rec Record) Kind {
	explicit := rec.Kind
	if explicit == "" {
		explicit = rec.EntityType
	}
	switch strings.ToLower(strings.TrimSpace(explicit)) {
	case "concept", "concepttype":
		return KindConcept
	case "event", "eventtype":
		return KindEvent
	case "object", "entity", "entitytype":
		return KindObject
	}

	category := rec.Category
	switch {
	case strings.Contains(category, "概念"),
		strings.Contains(category, "术语"),
		strings.Contains(category, "工艺"),
		strings.Contains(category, "流程"),
		strings.Contains(strings.ToLower(category), "concept"):
		return KindConcept
	case strings.Contains(category, "事件"),
		strings.Contains(strings.ToLower(category), "event"):
		return KindEvent
	default:
		return KindObject
	}
}

// Normalize validates one candidate record and canonicalizes it into an
// Entity. It returns the entity and any non-fatal coercion warnings, or a
// Rejection when the record cannot enter the graph. The returned entity has
// no timestamps; the Manager stamps them on insertion.
func (n *Normalizer) Normalize(rec Record) (*Entity, []Warning, *Rejection) {
	key := strings.TrimSpace(rec.EnglishName)
	if key == "" {
		key = strings.TrimSpace(rec.Name)
	}
	display := strings.TrimSpace(rec.DisplayName)
	if display == "" {
		display = strings.TrimSpace(rec.ChineseName)
	}
	if display == "" && rec.Name != "" && strings.TrimSpace(rec.Name) != key {
		display = strings.TrimSpace(rec.Name)
	}

	if key == "" && display == "" {
		return nil, nil, &Rejection{Reason: RejectMissingName}
	}
	if degenerateRe.MatchString(key) || degenerateRe.MatchString(display) {
		return nil, nil, &Rejection{Reason: RejectDegenerateName, Name: key + display}
	}
	if !ValidKey(key) {
		return nil, nil, &Rejection{Reason: RejectBadKeyGrammar, Name: key}
	}
	if looksLikePinyin(key) {
		return nil, nil, &Rejection{Reason: RejectPinyinKey, Name: key}
	}

	e := &Entity{
		Key:            key,
		DisplayName:    display,
		Description:    strings.TrimSpace(rec.Description),
		Kind:           kindFromRecord(rec),
		LegacyCategory: strings.TrimSpace(rec.Category),
	}

	var warnings []Warning
	if len(rec.Properties) > 0 {
		e.Properties = make(map[string]*PropertyDef, len(rec.Properties))
		for rawKey, raw := range rec.Properties {
			propKey := cleanPropertyKey(rawKey)
			def, w := normalizeProperty(key, propKey, raw, false)
			warnings = append(warnings, w...)
			if _, exists := e.Properties[propKey]; !exists {
				e.Properties[propKey] = def
			}
		}
	}
	if len(rec.Relations) > 0 {
		e.Relations = make(map[string]*RelationDef, len(rec.Relations))
		for rawKey, raw := range rec.Relations {
			relKey := cleanPropertyKey(rawKey)
			def, w := normalizeRelation(key, relKey, raw)
			if def == nil {
				warnings = append(warnings, w...)
				continue
			}
			warnings = append(warnings, w...)
			if _, exists := e.Relations[relKey]; !exists {
				e.Relations[relKey] = def
			}
		}
	}

	return e, warnings, nil
}

// normalizeProperty converts a raw property into a PropertyDef, coercing
// unrecognized value types to Text. Relation-scoped properties
// (scalarOnly) additionally downgrade standard and reference types.
func normalizeProperty(entity, propKey string, raw RawProperty, scalarOnly bool) (*PropertyDef, []Warning) {
	var warnings []Warning

	vt, err := ParseValueType(raw.Type)
	if err != nil {
		warnings = append(warnings, Warning{
			Entity:  entity,
			Field:   propKey,
			Message: fmt.Sprintf("coerced value type %q to Text", raw.Type),
		})
		vt = TextType
	}
	if scalarOnly && !vt.IsScalar() {
		warnings = append(warnings, Warning{
			Entity:  entity,
			Field:   propKey,
			Message: fmt.Sprintf("relation property type %q downgraded to Text (scalar kinds only)", vt),
		})
		vt = TextType
	}

	constraint, err := ParseConstraint(raw.Constraint)
	if err != nil {
		warnings = append(warnings, Warning{
			Entity:  entity,
			Field:   propKey,
			Message: fmt.Sprintf("dropped unknown constraint %q", raw.Constraint),
		})
	}

	display := strings.TrimSpace(raw.Display)
	if display == "" {
		display = strings.TrimSpace(raw.Description)
	}
	if display == "" {
		display = propKey
	}

	def := &PropertyDef{
		DisplayName: display,
		Type:        vt,
		Constraint:  constraint,
	}

	if len(raw.SubProps) > 0 && !scalarOnly {
		def.SubProps = make(map[string]*PropertyDef, len(raw.SubProps))
		for subKey, subRaw := range raw.SubProps {
			cleaned := cleanPropertyKey(subKey)
			// Sub-properties nest one level only; deeper nesting is flattened away.
			subRaw.SubProps = nil
			subDef, w := normalizeProperty(entity, cleaned, subRaw, false)
			warnings = append(warnings, w...)
			if _, exists := def.SubProps[cleaned]; !exists {
				def.SubProps[cleaned] = subDef
			}
		}
	}

	return def, warnings
}

// normalizeRelation converts a raw relation into a RelationDef. The target
// is kept verbatim: resolution to a canonical key (and stub creation) is the
// validation pass's job. A relation without any target is meaningless and
// dropped with a warning; that is the only drop in the normalizer and it
// removes an edge that never had a destination to lose.
func normalizeRelation(entity, relKey string, raw RawRelation) (*RelationDef, []Warning) {
	target := strings.TrimSpace(raw.Target)
	if target == "" {
		return nil, []Warning{{
			Entity:  entity,
			Field:   relKey,
			Message: "relation has no target",
		}}
	}

	var warnings []Warning
	constraint, err := ParseConstraint(raw.Constraint)
	if err != nil {
		warnings = append(warnings, Warning{
			Entity:  entity,
			Field:   relKey,
			Message: fmt.Sprintf("dropped unknown constraint %q", raw.Constraint),
		})
	}

	display := strings.TrimSpace(raw.Display)
	if display == "" {
		display = relKey
	}

	def := &RelationDef{
		DisplayName: display,
		Target:      target,
		Constraint:  constraint,
	}

	if len(raw.Properties) > 0 {
		def.Properties = make(map[string]*PropertyDef, len(raw.Properties))
		for propKey, propRaw := range raw.Properties {
			cleaned := cleanPropertyKey(propKey)
			propRaw.SubProps = nil
			propDef, w := normalizeProperty(entity, cleaned, propRaw, true)
			warnings = append(warnings, w...)
			if _, exists := def.Properties[cleaned]; !exists {
				def.Properties[cleaned] = propDef
			}
		}
	}

	return def, warnings
}
