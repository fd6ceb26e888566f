package export

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
)

const (
	psoStage     = NamespacePSO + "Stage"
	psoInStage   = NamespacePSO + "inStage"
	rdfsLabel    = NamespaceRDFS + "label"
	rdfStatement = NamespaceRDF + "Statement"
	rdfSubject   = NamespaceRDF + "subject"
	rdfPredicate = NamespaceRDF + "predicate"
	rdfObject    = NamespaceRDF + "object"
)

type importedEntity struct {
	node       string
	label      string
	typ        common.EntityType
	stages     common.Provenance
	attributes common.Attributes
}

type importedRelation struct {
	subject   string
	predicate string
	object    string
	stages    common.Provenance
}

// Import rebuilds a graph from a Turtle export. The document is replayed
// stage by stage into a fresh graph, so canonical ids are minted anew while
// labels, types, attributes, relations and provenance are preserved.
func Import(text string) (*graph.Graph, error) {
	return ImportWithParams(text, graph.NewGraphParams{})
}

// ImportWithParams is Import with control over how the fresh graph is built.
func ImportWithParams(text string, params graph.NewGraphParams) (*graph.Graph, error) {
	triples, err := ParseTurtle(text)
	if err != nil {
		return nil, err
	}

	entities, relations, err := collect(triples)
	if err != nil {
		return nil, err
	}

	g := graph.NewGraph(params)
	for stage := common.MinStage; stage <= common.MaxStage; stage++ {
		set := candidatesForStage(stage, entities, relations)
		if len(set.Entities) == 0 && len(set.Relations) == 0 {
			continue
		}
		if _, err := g.Merge(stage, set); err != nil {
			return nil, fmt.Errorf("replaying stage %d: %w", stage, err)
		}
	}

	stats := g.Stats()
	logger.Info("[Export] imported graph", "entities", stats.Entities, "relations", stats.Relations)
	return g, nil
}

func parseStage(iri string) (int, bool) {
	if !strings.HasPrefix(iri, psoStage) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(iri, psoStage))
	if err != nil || !common.ValidStage(n) {
		return 0, false
	}
	return n, true
}

func valueOf(t Term) common.Value {
	switch t.Datatype {
	case xsdDouble, xsdDecimal, xsdInteger, NamespaceXSD + "float", NamespaceXSD + "int", NamespaceXSD + "long":
		if f, err := strconv.ParseFloat(t.Value, 64); err == nil {
			return common.Number(f)
		}
	case xsdBoolean:
		if b, err := strconv.ParseBool(t.Value); err == nil {
			return common.Bool(b)
		}
	}
	return common.String(t.Value)
}

func localName(iri, ns string) (string, bool) {
	if !strings.HasPrefix(iri, ns) {
		return "", false
	}
	name, err := url.PathUnescape(strings.TrimPrefix(iri, ns))
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

func addStage(p common.Provenance, t Term) common.Provenance {
	if s, ok := parseStage(t.Value); ok {
		p, _ = p.Add(s)
	}
	return p
}

// collect groups the triples into entities and relations. Entities are the
// nodes typed with one of the entity types.
func collect(triples []Triple) ([]*importedEntity, []*importedRelation, error) {
	byNode := make(map[string]*importedEntity)
	var entities []*importedEntity

	for _, t := range triples {
		if t.Predicate.Value != rdfType || t.Object.Kind != TermIRI {
			continue
		}
		name, ok := localName(t.Object.Value, NamespacePSO)
		if !ok {
			continue
		}
		typ, known := common.ParseEntityType(name)
		if !known && name != string(common.TypeOther) {
			continue
		}
		if _, dup := byNode[t.Subject.Value]; dup {
			continue
		}
		e := &importedEntity{node: t.Subject.Value, typ: typ, attributes: common.Attributes{}}
		byNode[e.node] = e
		entities = append(entities, e)
	}

	type stmt struct {
		subject, predicate, object string
		stages                     common.Provenance
	}
	statements := make(map[string]*stmt)
	var relations []*importedRelation
	relIndex := make(map[common.TripleKey]*importedRelation)

	for _, t := range triples {
		subj := t.Subject.Value

		if e, ok := byNode[subj]; ok {
			switch {
			case t.Predicate.Value == rdfsLabel && t.Object.Kind == TermLiteral:
				if e.label == "" {
					e.label = t.Object.Value
				}
			case t.Predicate.Value == psoInStage:
				e.stages = addStage(e.stages, t.Object)
			case t.Object.Kind == TermLiteral:
				if key, ok := localName(t.Predicate.Value, NamespaceAttribute); ok {
					if _, set := e.attributes[key]; !set {
						e.attributes[key] = valueOf(t.Object)
					}
				}
			default:
				predicate, ok := localName(t.Predicate.Value, NamespaceRelation)
				if !ok {
					continue
				}
				if _, isEntity := byNode[t.Object.Value]; !isEntity {
					continue
				}
				key := common.TripleKey{Subject: subj, Predicate: predicate, Object: t.Object.Value}
				if _, dup := relIndex[key]; dup {
					continue
				}
				r := &importedRelation{subject: subj, predicate: predicate, object: t.Object.Value}
				relIndex[key] = r
				relations = append(relations, r)
			}
			continue
		}

		s := statements[subj]
		if s == nil {
			s = &stmt{}
			statements[subj] = s
		}
		switch t.Predicate.Value {
		case rdfSubject:
			s.subject = t.Object.Value
		case rdfPredicate:
			s.predicate, _ = localName(t.Object.Value, NamespaceRelation)
		case rdfObject:
			s.object = t.Object.Value
		case psoInStage:
			s.stages = addStage(s.stages, t.Object)
		}
	}

	for _, s := range statements {
		r, ok := relIndex[common.TripleKey{Subject: s.subject, Predicate: s.predicate, Object: s.object}]
		if !ok {
			continue
		}
		for _, stage := range s.stages {
			r.stages, _ = r.stages.Add(stage)
		}
	}

	for _, e := range entities {
		if strings.TrimSpace(e.label) == "" {
			return nil, nil, fmt.Errorf("%w: entity %s has no label", ErrInvalidTurtle, e.node)
		}
		if len(e.stages) == 0 {
			e.stages = common.Provenance{common.MinStage}
		}
		slices.Sort(e.stages)
	}
	for _, r := range relations {
		if len(r.stages) == 0 {
			// unreified relation: assume it was asserted once both ends existed
			r.stages = common.Provenance{max(byNode[r.subject].stages.First(), byNode[r.object].stages.First())}
		}
		slices.Sort(r.stages)
	}

	return entities, relations, nil
}

func candidatesForStage(stage int, entities []*importedEntity, relations []*importedRelation) *common.CandidateSet {
	set := &common.CandidateSet{Stage: stage}
	local := make(map[string]int)

	add := func(e *importedEntity) int {
		if idx, ok := local[e.node]; ok {
			return idx
		}
		c := common.CandidateEntity{Label: e.label, Type: e.typ}
		if e.stages.First() == stage {
			c.Attributes = e.attributes.Clone()
		}
		local[e.node] = len(set.Entities)
		set.Entities = append(set.Entities, c)
		return local[e.node]
	}

	byNode := make(map[string]*importedEntity, len(entities))
	for _, e := range entities {
		byNode[e.node] = e
		if e.stages.Contains(stage) {
			add(e)
		}
	}

	for _, r := range relations {
		if !r.stages.Contains(stage) {
			continue
		}
		subject, object := byNode[r.subject], byNode[r.object]
		set.Relations = append(set.Relations, common.CandidateRelation{
			Subject:      subject.label,
			Predicate:    r.predicate,
			Object:       object.label,
			SubjectIndex: add(subject),
			ObjectIndex:  add(object),
		})
	}

	return set
}
