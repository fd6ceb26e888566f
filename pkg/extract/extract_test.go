package extract

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

func TestNormalize_BasicPayload(t *testing.T) {
	raw := []byte(`{
		"entities": [
			{"label": "Slow Load Time", "type": "Problem", "attributes": {"severity": "high"}},
			{"label": "User Drop-off", "type": "Risk"}
		],
		"relations": [
			{"subject": "Slow Load Time", "predicate": "causes", "object": "User Drop-off"}
		]
	}`)

	set, err := Normalize(3, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if set.Stage != 3 {
		t.Fatalf("expected stage 3, got %d", set.Stage)
	}
	if len(set.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(set.Entities))
	}
	if got := set.Entities[0].Attributes["severity"]; got != common.String("high") {
		t.Fatalf("unexpected severity attribute: %+v", got)
	}
	if set.Entities[1].Type != common.TypeRisk {
		t.Fatalf("expected Risk, got %s", set.Entities[1].Type)
	}

	want := common.CandidateRelation{
		Subject:      "Slow Load Time",
		Predicate:    "causes",
		Object:       "User Drop-off",
		SubjectIndex: 0,
		ObjectIndex:  1,
	}
	if !reflect.DeepEqual(set.Relations, []common.CandidateRelation{want}) {
		t.Fatalf("unexpected relations: %+v", set.Relations)
	}
}

func TestNormalize_AgentShape(t *testing.T) {
	raw := []byte("Here is the ontology:\n```json\n" + `{
  "entities": [{"id":"E1","label":"Main Problem","type":"Problem"},{"id":"E2","label":"Slow API","type":"Subproblem"}],
  "relations": [{"from":"E1","to":"E2","type":"hasSubproblem"}],
  "attributes": [{"entity":"E1","key":"priority","value":"high"},{"entity":"E2","key":"difficulty","value":3}]
}` + "\n```\nLet me know if you need more.")

	set, err := Normalize(1, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if set.Entities[0].Ref != "E1" || set.Entities[1].Ref != "E2" {
		t.Fatalf("expected local ids to be kept, got %+v", set.Entities)
	}
	if got := set.Entities[0].Attributes["priority"]; got != common.String("high") {
		t.Fatalf("unexpected priority: %+v", got)
	}
	if got := set.Entities[1].Attributes["difficulty"]; got != common.Number(3) {
		t.Fatalf("unexpected difficulty: %+v", got)
	}
	r := set.Relations[0]
	if r.Predicate != "hasSubproblem" || r.SubjectIndex != 0 || r.ObjectIndex != 1 || r.Deferred {
		t.Fatalf("unexpected relation: %+v", r)
	}
}

func TestNormalize_UnknownTypeCoercedToOther(t *testing.T) {
	set, err := Normalize(2, []byte(`{"entities":[{"label":"Marketing Team","type":"Stakeholder"}]}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if set.Entities[0].Type != common.TypeOther {
		t.Fatalf("expected Other, got %s", set.Entities[0].Type)
	}
	if len(set.Notes) != 1 || !strings.Contains(set.Notes[0], "Stakeholder") {
		t.Fatalf("expected a coercion note, got %v", set.Notes)
	}
}

func TestNormalize_SameStageDuplicatesCollapse(t *testing.T) {
	raw := []byte(`{"entities":[
		{"label":"Budget Constraint","type":"Constraint","attributes":{"amount":1000,"currency":"EUR"}},
		{"label":"  budget   constraint ","type":"constraint","attributes":{"amount":1200}}
	]}`)

	set, err := Normalize(1, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(set.Entities) != 1 {
		t.Fatalf("expected duplicates to collapse, got %d entities", len(set.Entities))
	}
	e := set.Entities[0]
	if e.Label != "Budget Constraint" {
		t.Fatalf("expected first label to be kept, got %q", e.Label)
	}
	want := common.Attributes{"amount": common.Number(1200), "currency": common.String("EUR")}
	if !reflect.DeepEqual(e.Attributes, want) {
		t.Fatalf("unexpected attributes: got %+v, want %+v", e.Attributes, want)
	}
}

func TestNormalize_DeferredRelation(t *testing.T) {
	raw := []byte(`{"entities":[{"label":"CDN Rollout","type":"Solution"}],
		"relations":[{"subject":"CDN Rollout","predicate":"mitigates","object":"Slow Load Time"}]}`)

	set, err := Normalize(3, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	r := set.Relations[0]
	if !r.Deferred || r.SubjectIndex != 0 || r.ObjectIndex != -1 {
		t.Fatalf("expected object to be deferred, got %+v", r)
	}
}

func TestNormalize_AttributeValueKinds(t *testing.T) {
	raw := []byte(`{"entities":[{"label":"Load Test","type":"Test","attributes":[
		{"key":"passed","value":true},
		{"key":"p95","value":0.25},
		{"key":"owner","value":"qa"},
		{"key":"tags","value":["perf", "web"]},
		{"key":"missing","value":null}
	]}]}`)

	set, err := Normalize(6, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want := common.Attributes{
		"passed": common.Bool(true),
		"p95":    common.Number(0.25),
		"owner":  common.String("qa"),
		"tags":   common.String(`["perf","web"]`),
	}
	if !reflect.DeepEqual(set.Entities[0].Attributes, want) {
		t.Fatalf("unexpected attributes: got %+v, want %+v", set.Entities[0].Attributes, want)
	}
	if len(set.Notes) != 1 {
		t.Fatalf("expected a note for the null value, got %v", set.Notes)
	}
}

func TestNormalize_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		stage int
		raw   string
	}{
		{name: "empty", stage: 1, raw: ""},
		{name: "prose only", stage: 1, raw: "I could not find any entities."},
		{name: "top level array", stage: 1, raw: `[{"label":"x"}]`},
		{name: "no entities or relations", stage: 1, raw: `{"nodes":[]}`},
		{name: "empty label", stage: 1, raw: `{"entities":[{"label":"","type":"Problem"}]}`},
		{name: "whitespace label", stage: 1, raw: `{"entities":[{"label":"   ","type":"Problem"}]}`},
		{name: "relation without predicate", stage: 1, raw: `{"relations":[{"subject":"a","object":"b"}]}`},
		{name: "relation without object", stage: 1, raw: `{"relations":[{"subject":"a","predicate":"p"}]}`},
		{name: "entities not a list", stage: 1, raw: `{"entities":{"label":"x"}}`},
		{name: "attributes not a map", stage: 1, raw: `{"entities":[{"label":"x","attributes":"high"}]}`},
		{name: "stage too low", stage: 0, raw: `{"entities":[]}`},
		{name: "stage too high", stage: 8, raw: `{"entities":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Normalize(tt.stage, []byte(tt.raw))
			if !errors.Is(err, ErrMalformedExtraction) {
				t.Fatalf("expected ErrMalformedExtraction, got set=%+v err=%v", set, err)
			}
		})
	}
}

func TestNormalize_RepairsNoisyJSON(t *testing.T) {
	raw := []byte(`{entities: [{label: 'Budget', type: 'Resource',}],}`)

	set, err := Normalize(2, raw)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(set.Entities) != 1 || set.Entities[0].Label != "Budget" {
		t.Fatalf("unexpected entities: %+v", set.Entities)
	}
}

func TestNormalizePayload(t *testing.T) {
	resp := Response{
		Entities: []EntityPayload{
			{ID: "E1", Label: "Slow Load Time", Type: "Problem", Attributes: []AttributePayload{
				{Key: "severity", Value: ScalarValue(`"high"`)},
				{Key: "amount", Value: ScalarValue(`1000`)},
				{Key: "blocking", Value: ScalarValue(`true`)},
			}},
		},
		Relations: []RelationPayload{
			{Subject: "E1", Predicate: "causes", Object: "User Drop-off"},
		},
	}

	set, err := NormalizePayload(1, resp)
	if err != nil {
		t.Fatalf("NormalizePayload() error = %v", err)
	}
	attrs := set.Entities[0].Attributes
	if got := attrs["severity"]; got != common.String("high") {
		t.Fatalf("unexpected attribute: %+v", got)
	}
	if got := attrs["amount"]; got.Kind != common.KindNumber || got != common.Number(1000) {
		t.Fatalf("expected numeric amount, got %+v", got)
	}
	if got := attrs["blocking"]; got.Kind != common.KindBool || got != common.Bool(true) {
		t.Fatalf("expected boolean blocking, got %+v", got)
	}
	if r := set.Relations[0]; !r.Deferred || r.SubjectIndex != 0 {
		t.Fatalf("unexpected relation: %+v", r)
	}

	if _, err := NormalizePayload(1, Response{Entities: []EntityPayload{{Label: " "}}}); !errors.Is(err, ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}
}

func TestNormalizePayload_DecodedScalars(t *testing.T) {
	var first, second Response
	if err := json.Unmarshal([]byte(`{"entities": [{"id": "E1", "label": "Budget Constraint", "type": "Constraint",
		"attributes": [{"key": "amount", "value": 1000}]}]}`), &first); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if err := json.Unmarshal([]byte(`{"entities": [{"id": "E1", "label": "Budget Constraint", "type": "Constraint",
		"attributes": [{"key": "amount", "value": 1000.0}]}]}`), &second); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	a, err := NormalizePayload(1, first)
	if err != nil {
		t.Fatalf("NormalizePayload() error = %v", err)
	}
	b, err := NormalizePayload(2, second)
	if err != nil {
		t.Fatalf("NormalizePayload() error = %v", err)
	}
	if a.Entities[0].Attributes["amount"] != b.Entities[0].Attributes["amount"] {
		t.Fatalf("1000 and 1000.0 decoded differently: %+v vs %+v",
			a.Entities[0].Attributes["amount"], b.Entities[0].Attributes["amount"])
	}
}

func TestSchema(t *testing.T) {
	raw, err := json.Marshal(Schema())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	schema := string(raw)
	for _, want := range []string{`"entities"`, `"relations"`, `"label"`, `"predicate"`, `"anyOf"`, `"boolean"`} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema misses %s: %s", want, schema)
		}
	}
}
