package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/stagegraph/pkg/ai"
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/go-playground/validator"
)

// ErrMalformedExtraction is returned when a stage payload cannot be decoded
// into the expected shape or lacks a required structural field. The graph
// is never touched when it is returned.
var ErrMalformedExtraction = errors.New("malformed extraction")

var validate = validator.New()

type entityInput struct {
	Ref   string
	Label string `validate:"required"`
	Type  string
	Attrs []attrInput
}

type relationInput struct {
	Subject   string `validate:"required"`
	Predicate string `validate:"required"`
	Object    string `validate:"required"`
}

type attrInput struct {
	Entity string
	Key    string
	Value  json.RawMessage
}

type document struct {
	Stage      int             `validate:"min=1,max=7"`
	Entities   []entityInput   `validate:"dive"`
	Relations  []relationInput `validate:"dive"`
	Attributes []attrInput
}

// Normalize converts the raw extraction payload of one stage into a typed
// candidate set. The payload may be wrapped in a markdown fence, surrounded
// by prose or slightly malformed; such noise is removed before decoding.
//
// Normalize is pure and only fails with ErrMalformedExtraction.
func Normalize(stage int, raw []byte) (*common.CandidateSet, error) {
	doc, err := decode(stage, raw)
	if err != nil {
		return nil, err
	}
	return build(doc)
}

// NormalizePayload is Normalize for a payload that was already decoded into
// the structured-output shape.
func NormalizePayload(stage int, resp Response) (*common.CandidateSet, error) {
	doc := document{Stage: stage}
	for _, e := range resp.Entities {
		in := entityInput{
			Ref:   strings.TrimSpace(e.ID),
			Label: strings.TrimSpace(e.Label),
			Type:  e.Type,
		}
		for _, a := range e.Attributes {
			in.Attrs = append(in.Attrs, attrInput{Key: a.Key, Value: json.RawMessage(a.Value)})
		}
		doc.Entities = append(doc.Entities, in)
	}
	for _, r := range resp.Relations {
		doc.Relations = append(doc.Relations, relationInput{
			Subject:   strings.TrimSpace(r.Subject),
			Predicate: strings.TrimSpace(r.Predicate),
			Object:    strings.TrimSpace(r.Object),
		})
	}
	return build(doc)
}

type wireEntity struct {
	ID         flexString      `json:"id"`
	Label      flexString      `json:"label"`
	Name       flexString      `json:"name"`
	Type       flexString      `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

type wireRelation struct {
	Subject   flexString `json:"subject"`
	From      flexString `json:"from"`
	Predicate flexString `json:"predicate"`
	Type      flexString `json:"type"`
	Object    flexString `json:"object"`
	To        flexString `json:"to"`
}

type wireAttribute struct {
	Entity flexString      `json:"entity"`
	Key    flexString      `json:"key"`
	Name   flexString      `json:"name"`
	Value  json.RawMessage `json:"value"`
}

// flexString accepts a JSON string or number. Models frequently emit ids
// such as 1 instead of "E1".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) trimmed() string {
	return strings.TrimSpace(string(f))
}

func firstOf(values ...flexString) string {
	for _, v := range values {
		if s := v.trimmed(); s != "" {
			return s
		}
	}
	return ""
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedExtraction, fmt.Sprintf(format, args...))
}

func decode(stage int, raw []byte) (document, error) {
	doc := document{Stage: stage}

	body := ai.ExtractJSONBlock(string(raw))
	if body == "" {
		return doc, malformed("empty payload")
	}

	var top map[string]json.RawMessage
	if err := ai.UnmarshalFlexible(body, &top); err != nil {
		return doc, malformed("payload is not a JSON object: %v", err)
	}

	rawEntities, hasEntities := top["entities"]
	rawRelations, hasRelations := top["relations"]
	if !hasRelations {
		rawRelations, hasRelations = top["relationships"]
	}
	if !hasEntities && !hasRelations {
		return doc, malformed("payload has neither entities nor relations")
	}

	var entities []wireEntity
	if err := decodeList(rawEntities, &entities); err != nil {
		return doc, malformed("entities: %v", err)
	}
	var relations []wireRelation
	if err := decodeList(rawRelations, &relations); err != nil {
		return doc, malformed("relations: %v", err)
	}
	var attributes []wireAttribute
	if err := decodeList(top["attributes"], &attributes); err != nil {
		return doc, malformed("attributes: %v", err)
	}

	for i, e := range entities {
		attrs, err := decodeAttributes(e.Attributes)
		if err != nil {
			return doc, malformed("entities[%d].attributes: %v", i, err)
		}
		doc.Entities = append(doc.Entities, entityInput{
			Ref:   e.ID.trimmed(),
			Label: firstOf(e.Label, e.Name),
			Type:  e.Type.trimmed(),
			Attrs: attrs,
		})
	}
	for _, r := range relations {
		doc.Relations = append(doc.Relations, relationInput{
			Subject:   firstOf(r.Subject, r.From),
			Predicate: firstOf(r.Predicate, r.Type),
			Object:    firstOf(r.Object, r.To),
		})
	}
	for _, a := range attributes {
		doc.Attributes = append(doc.Attributes, attrInput{
			Entity: a.Entity.trimmed(),
			Key:    firstOf(a.Key, a.Name),
			Value:  a.Value,
		})
	}

	return doc, nil
}

func decodeList(raw json.RawMessage, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if raw[0] != '[' {
		return errors.New("expected a list")
	}
	return json.Unmarshal(raw, out)
}

// decodeAttributes accepts either an object ({"priority": "high"}) or a list
// of key/value pairs ([{"key": "priority", "value": "high"}]).
func decodeAttributes(raw json.RawMessage) ([]attrInput, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	switch raw[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make([]attrInput, 0, len(keys))
		for _, k := range keys {
			out = append(out, attrInput{Key: strings.TrimSpace(k), Value: m[k]})
		}
		return out, nil
	case '[':
		var list []wireAttribute
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		out := make([]attrInput, 0, len(list))
		for _, a := range list {
			out = append(out, attrInput{Key: firstOf(a.Key, a.Name), Value: a.Value})
		}
		return out, nil
	default:
		return nil, errors.New("expected an object or a list")
	}
}

// toValue maps a JSON value onto the closed scalar kinds. Nested objects and
// arrays are kept as their compact JSON text. ok is false for null.
func toValue(raw json.RawMessage) (v common.Value, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return common.Value{}, false
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return common.String(string(raw)), true
	}

	switch t := decoded.(type) {
	case string:
		return common.String(t), true
	case float64:
		return common.Number(t), true
	case bool:
		return common.Bool(t), true
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return common.String(string(raw)), true
		}
		return common.String(buf.String()), true
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "document.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(field))
	case "min", "max":
		return fmt.Sprintf("stage %v is outside %d..%d", fe.Value(), common.MinStage, common.MaxStage)
	default:
		return fmt.Sprintf("%s failed %q", strings.ToLower(field), fe.Tag())
	}
}

func build(doc document) (*common.CandidateSet, error) {
	for i := range doc.Entities {
		doc.Entities[i].Label = strings.TrimSpace(doc.Entities[i].Label)
	}
	for i := range doc.Relations {
		r := &doc.Relations[i]
		r.Subject = strings.TrimSpace(r.Subject)
		r.Predicate = strings.TrimSpace(r.Predicate)
		r.Object = strings.TrimSpace(r.Object)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, malformed("%s", describe(err))
	}

	set := &common.CandidateSet{Stage: doc.Stage}
	byKey := make(map[string]int)
	byRef := make(map[string]int)
	byLabel := make(map[string]int)

	setAttr := func(idx int, key string, raw json.RawMessage) {
		key = strings.TrimSpace(key)
		entity := &set.Entities[idx]
		if key == "" {
			set.Notes = append(set.Notes, fmt.Sprintf("entity %q: attribute without a name skipped", entity.Label))
			return
		}
		v, ok := toValue(raw)
		if !ok {
			set.Notes = append(set.Notes, fmt.Sprintf("entity %q: null value for %q skipped", entity.Label, key))
			return
		}
		if entity.Attributes == nil {
			entity.Attributes = common.Attributes{}
		}
		entity.Attributes[key] = v
	}

	for _, e := range doc.Entities {
		typ, known := common.ParseEntityType(e.Type)
		if !known && e.Type != "" {
			set.Notes = append(set.Notes, fmt.Sprintf("entity %q: unknown type %q coerced to %s", e.Label, e.Type, common.TypeOther))
		}

		key := common.CanonicalKey(e.Label, typ)
		idx, dup := byKey[key]
		if !dup {
			idx = len(set.Entities)
			byKey[key] = idx
			set.Entities = append(set.Entities, common.CandidateEntity{
				Ref:   e.Ref,
				Label: e.Label,
				Type:  typ,
			})
		}

		if e.Ref != "" {
			if prev, taken := byRef[e.Ref]; taken && prev != idx {
				set.Notes = append(set.Notes, fmt.Sprintf("local id %q reused, keeping first entity", e.Ref))
			} else {
				byRef[e.Ref] = idx
			}
		}
		norm := common.NormalizeLabel(e.Label)
		if _, taken := byLabel[norm]; !taken {
			byLabel[norm] = idx
		}

		for _, a := range e.Attrs {
			setAttr(idx, a.Key, a.Value)
		}
	}

	lookup := func(ref string) int {
		if idx, ok := byRef[ref]; ok {
			return idx
		}
		if idx, ok := byLabel[common.NormalizeLabel(ref)]; ok {
			return idx
		}
		return -1
	}

	for _, a := range doc.Attributes {
		idx := lookup(a.Entity)
		if idx < 0 {
			set.Notes = append(set.Notes, fmt.Sprintf("attribute %q refers to unknown entity %q, skipped", a.Key, a.Entity))
			continue
		}
		setAttr(idx, a.Key, a.Value)
	}

	for _, r := range doc.Relations {
		rel := common.CandidateRelation{
			Subject:      r.Subject,
			Predicate:    r.Predicate,
			Object:       r.Object,
			SubjectIndex: lookup(r.Subject),
			ObjectIndex:  lookup(r.Object),
		}
		rel.Deferred = rel.SubjectIndex < 0 || rel.ObjectIndex < 0
		set.Relations = append(set.Relations, rel)
	}

	return set, nil
}

// Describe renders a short human readable summary of a candidate set, used
// in logs.
func Describe(set *common.CandidateSet) string {
	if set == nil {
		return "<nil>"
	}
	deferred := 0
	for _, r := range set.Relations {
		if r.Deferred {
			deferred++
		}
	}
	return "stage=" + strconv.Itoa(set.Stage) +
		" entities=" + strconv.Itoa(len(set.Entities)) +
		" relations=" + strconv.Itoa(len(set.Relations)) +
		" deferred=" + strconv.Itoa(deferred)
}
