package extract

import (
	"encoding/json"

	"github.com/OFFIS-RIT/stagegraph/pkg/ai"

	"github.com/invopop/jsonschema"
)

// Response is the payload shape requested from the generative backend when
// it supports structured output. Decoding in Normalize is more lenient than
// this schema and also accepts the aliases produced by older prompts.
type Response struct {
	Entities  []EntityPayload   `json:"entities" jsonschema_description:"Concepts mentioned in the stage output"`
	Relations []RelationPayload `json:"relations" jsonschema_description:"Directed relations between the extracted concepts"`
}

// EntityPayload describes one extracted concept.
type EntityPayload struct {
	ID         string             `json:"id" jsonschema_description:"Short payload-local identifier such as E1, used by relations"`
	Label      string             `json:"label" jsonschema_description:"Human readable name of the concept"`
	Type       string             `json:"type" jsonschema_description:"One of Problem, Subproblem, Constraint, Assumption, Solution, Criterion, Step, Resource, Test, Risk, Outcome, Insight, Other"`
	Attributes []AttributePayload `json:"attributes" jsonschema_description:"Properties of the concept such as priority, status or amount"`
}

// AttributePayload is a single key/value property of an entity.
type AttributePayload struct {
	Key   string      `json:"key"`
	Value ScalarValue `json:"value" jsonschema_description:"String, number or boolean; numbers and booleans unquoted"`
}

// ScalarValue holds an attribute value as raw JSON so numbers and booleans
// keep their kind.
type ScalarValue json.RawMessage

func (v ScalarValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return v, nil
}

func (v *ScalarValue) UnmarshalJSON(b []byte) error {
	*v = append((*v)[:0], b...)
	return nil
}

func (ScalarValue) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "number"},
			{Type: "boolean"},
		},
	}
}

// RelationPayload describes a directed relation. Subject and Object refer to
// entity ids or labels.
type RelationPayload struct {
	Subject   string `json:"subject" jsonschema_description:"Id or label of the source entity"`
	Predicate string `json:"predicate" jsonschema_description:"Relation name in camelCase, e.g. hasSubproblem, causes, solvedBy"`
	Object    string `json:"object" jsonschema_description:"Id or label of the target entity"`
}

// Schema returns the JSON Schema describing Response.
func Schema() any {
	return ai.GenerateSchema(&Response{})
}
