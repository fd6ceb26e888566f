package common

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MinStage and MaxStage bound the stage indices of the seven-stage
// problem-solving process.
const (
	MinStage = 1
	MaxStage = 7
)

// ValidStage reports whether stage is one of the seven known stages.
func ValidStage(stage int) bool {
	return stage >= MinStage && stage <= MaxStage
}

// EntityType is the closed vocabulary of concept kinds an entity can have.
type EntityType string

const (
	TypeProblem    EntityType = "Problem"
	TypeSubproblem EntityType = "Subproblem"
	TypeConstraint EntityType = "Constraint"
	TypeAssumption EntityType = "Assumption"
	TypeSolution   EntityType = "Solution"
	TypeCriterion  EntityType = "Criterion"
	TypeStep       EntityType = "Step"
	TypeResource   EntityType = "Resource"
	TypeTest       EntityType = "Test"
	TypeRisk       EntityType = "Risk"
	TypeOutcome    EntityType = "Outcome"
	TypeInsight    EntityType = "Insight"
	TypeOther      EntityType = "Other"
)

// EntityTypes lists the recognized entity types in declaration order.
var EntityTypes = []EntityType{
	TypeProblem,
	TypeSubproblem,
	TypeConstraint,
	TypeAssumption,
	TypeSolution,
	TypeCriterion,
	TypeStep,
	TypeResource,
	TypeTest,
	TypeRisk,
	TypeOutcome,
	TypeInsight,
	TypeOther,
}

// ParseEntityType maps a free-form type tag onto the vocabulary. Matching is
// case-insensitive and ignores surrounding whitespace. Unknown tags resolve
// to TypeOther and ok is false.
func ParseEntityType(tag string) (t EntityType, ok bool) {
	tag = strings.TrimSpace(tag)
	for _, known := range EntityTypes {
		if strings.EqualFold(string(known), tag) {
			return known, true
		}
	}
	return TypeOther, false
}

// ValueKind enumerates the scalar kinds an attribute value can take.
type ValueKind int

const (
	KindString ValueKind = iota
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "string"
	}
}

// Value is a scalar attribute value. Only the field matching Kind is
// meaningful.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
}

// String returns a string Value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Text renders the value without type information.
func (v Value) Text() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return v.Str
	}
}

// Any returns the value as a plain Go value (string, float64 or bool).
func (v Value) Any() any {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	default:
		return v.Str
	}
}

// MarshalJSON encodes the value as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// UnmarshalJSON decodes a JSON string, number or boolean.
func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case string:
		*v = String(t)
	case float64:
		*v = Number(t)
	case bool:
		*v = Bool(t)
	default:
		return fmt.Errorf("unsupported attribute value %s", b)
	}
	return nil
}

// Attributes is an open mapping from attribute name to scalar value.
type Attributes map[string]Value

// Clone returns an independent copy of the attribute map.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Provenance is the ordered set of stages that asserted or reinforced a
// fact. Order is discovery order and the set only ever grows.
type Provenance []int

// Contains reports whether stage is already recorded.
func (p Provenance) Contains(stage int) bool {
	return slices.Contains(p, stage)
}

// Add returns the provenance with stage appended, unless it is already
// present. The second result reports whether the set changed.
func (p Provenance) Add(stage int) (Provenance, bool) {
	if p.Contains(stage) {
		return p, false
	}
	return append(p, stage), true
}

// First returns the stage that introduced the fact, or 0 for an empty set.
func (p Provenance) First() int {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}

// Clone returns an independent copy.
func (p Provenance) Clone() Provenance {
	return slices.Clone(p)
}

// Entity is a canonical concept in the knowledge graph. ID is assigned once
// when the concept is first observed; Label keeps the first spelling seen.
type Entity struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Type       EntityType `json:"type"`
	Attributes Attributes `json:"attributes"`
	Provenance Provenance `json:"provenance"`
}

// Clone returns a deep copy of the entity.
func (e Entity) Clone() Entity {
	e.Attributes = e.Attributes.Clone()
	e.Provenance = e.Provenance.Clone()
	return e
}

// Relation is a directed, labeled edge between two canonical entities.
// The (Subject, Predicate, Object) triple is unique within a graph.
type Relation struct {
	Subject    string     `json:"subject"`
	Predicate  string     `json:"predicate"`
	Object     string     `json:"object"`
	Provenance Provenance `json:"provenance"`
}

// Key returns the identity of the relation's triple.
func (r Relation) Key() TripleKey {
	return TripleKey{Subject: r.Subject, Predicate: r.Predicate, Object: r.Object}
}

// Clone returns a deep copy of the relation.
func (r Relation) Clone() Relation {
	r.Provenance = r.Provenance.Clone()
	return r
}

// TripleKey identifies a relation by its subject, predicate and object.
type TripleKey struct {
	Subject   string
	Predicate string
	Object    string
}

// CandidateEntity is an entity extracted from a single stage payload that
// has not been canonicalized yet. Ref is the payload-local identifier, if
// the payload supplied one.
type CandidateEntity struct {
	Ref        string
	Label      string
	Type       EntityType
	Attributes Attributes
}

// CandidateRelation is a relation extracted from a single stage payload.
// Subject and Object hold the raw endpoint references from the payload.
// When the normalizer found an endpoint inside the same payload, the
// matching *Index field holds the position of that candidate entity;
// otherwise it is -1 and the relation is Deferred until merge time.
type CandidateRelation struct {
	Subject      string
	Predicate    string
	Object       string
	SubjectIndex int
	ObjectIndex  int
	Deferred     bool
}

// CandidateSet is the validated, typed result of normalizing one stage
// payload.
type CandidateSet struct {
	Stage     int
	Entities  []CandidateEntity
	Relations []CandidateRelation
	Notes     []string
}

// StageRecord captures one completed stage: the text handed to the engine,
// what was extracted from it and when.
type StageRecord struct {
	Stage      int           `json:"stage"`
	Title      string        `json:"title"`
	Input      string        `json:"input"`
	Output     string        `json:"output"`
	Candidates *CandidateSet `json:"-"`
	CreatedAt  time.Time     `json:"created_at"`
}
