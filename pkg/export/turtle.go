package export

import (
	"cmp"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
)

// Namespaces used by the Turtle export.
const (
	NamespacePSO       = "http://example.org/problem-solving-ontology#"
	NamespaceAttribute = "http://example.org/problem-solving-ontology/attribute#"
	NamespaceRelation  = "http://example.org/problem-solving-ontology/relation#"
	NamespaceRDF       = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NamespaceRDFS      = "http://www.w3.org/2000/01/rdf-schema#"
	NamespaceXSD       = "http://www.w3.org/2001/XMLSchema#"
)

var prefixes = []struct {
	name string
	iri  string
}{
	{"pso", NamespacePSO},
	{"rdf", NamespaceRDF},
	{"rdfs", NamespaceRDFS},
	{"xsd", NamespaceXSD},
	{"attr", NamespaceAttribute},
	{"rel", NamespaceRelation},
}

// Source is anything that can hand out a read-only graph snapshot.
// *graph.Graph and graph.Snapshot both qualify.
type Source interface {
	Snapshot() graph.Snapshot
}

func entityNode(id string) string {
	return "pso:e_" + id
}

func stageNode(stage int) string {
	return "pso:Stage" + strconv.Itoa(stage)
}

// safeLocal reports whether name can be written as a prefixed name
// without escaping. Only ASCII letters, digits, '_' and '-' qualify; anything
// else is written as a full IRI.
func safeLocal(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		letter := r < utf8.RuneSelf && (r == '_' || unicode.IsLetter(r))
		switch {
		case letter:
		case i > 0 && (r == '-' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

func term(prefix, ns, name string) string {
	if safeLocal(name) {
		return prefix + ":" + name
	}
	return "<" + ns + url.PathEscape(name) + ">"
}

func attributeIRI(key string) string {
	return term("attr", NamespaceAttribute, key)
}

func relationIRI(predicate string) string {
	return term("rel", NamespaceRelation, predicate)
}

func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func literal(v common.Value) string {
	switch v.Kind {
	case common.KindNumber:
		return quote(v.Text()) + "^^xsd:double"
	case common.KindBool:
		return quote(v.Text()) + "^^xsd:boolean"
	default:
		return quote(v.Str)
	}
}

func stageList(p common.Provenance) string {
	nodes := make([]string, 0, len(p))
	for _, s := range p {
		nodes = append(nodes, stageNode(s))
	}
	return strings.Join(nodes, ", ")
}

// sortedEntities orders entities by the stage that introduced them, then
// by label, type and id.
func sortedEntities(snap graph.Snapshot) []common.Entity {
	out := slices.Clone(snap.Entities)
	slices.SortFunc(out, func(a, b common.Entity) int {
		return cmp.Or(
			cmp.Compare(a.Provenance.First(), b.Provenance.First()),
			cmp.Compare(common.NormalizeLabel(a.Label), common.NormalizeLabel(b.Label)),
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out
}

func sortedRelations(snap graph.Snapshot) []common.Relation {
	entities := snap.EntityMap()
	label := func(id string) string {
		return common.NormalizeLabel(entities[id].Label)
	}
	out := slices.Clone(snap.Relations)
	slices.SortFunc(out, func(a, b common.Relation) int {
		return cmp.Or(
			cmp.Compare(a.Provenance.First(), b.Provenance.First()),
			cmp.Compare(label(a.Subject), label(b.Subject)),
			cmp.Compare(a.Predicate, b.Predicate),
			cmp.Compare(label(a.Object), label(b.Object)),
			cmp.Compare(a.Subject, b.Subject),
			cmp.Compare(a.Object, b.Object),
		)
	})
	return out
}

// ToTurtle serializes the graph as a Turtle document.
//
// Every entity becomes a pso:e_<id> node with its type, label, the stages
// that asserted it and one statement per attribute. Every relation becomes
// one statement plus a reified rdf:Statement that carries its stages. The
// output is deterministic for a given graph.
func ToTurtle(src Source) string {
	return writeTurtle(src.Snapshot())
}

// StageTurtle is ToTurtle restricted to facts asserted in the given stage.
func StageTurtle(src Source, stage int) string {
	return writeTurtle(restrict(src.Snapshot(), stage))
}

func writeTurtle(snap graph.Snapshot) string {
	var b strings.Builder

	for _, p := range prefixes {
		fmt.Fprintf(&b, "@prefix %s: <%s> .\n", p.name, p.iri)
	}
	b.WriteString("\n")

	var stages []int
	for _, e := range snap.Entities {
		for _, s := range e.Provenance {
			if !slices.Contains(stages, s) {
				stages = append(stages, s)
			}
		}
	}
	slices.Sort(stages)
	for _, s := range stages {
		fmt.Fprintf(&b, "%s a pso:Stage .\n", stageNode(s))
	}
	if len(stages) > 0 {
		b.WriteString("\n")
	}

	for _, e := range sortedEntities(snap) {
		fmt.Fprintf(&b, "%s a pso:%s ;\n", entityNode(e.ID), e.Type)
		fmt.Fprintf(&b, "    rdfs:label %s", quote(e.Label))
		if len(e.Provenance) > 0 {
			fmt.Fprintf(&b, " ;\n    pso:inStage %s", stageList(e.Provenance))
		}
		for _, k := range e.Attributes.Keys() {
			fmt.Fprintf(&b, " ;\n    %s %s", attributeIRI(k), literal(e.Attributes[k]))
		}
		b.WriteString(" .\n\n")
	}

	relations := sortedRelations(snap)
	for _, r := range relations {
		fmt.Fprintf(&b, "%s %s %s .\n", entityNode(r.Subject), relationIRI(r.Predicate), entityNode(r.Object))
	}
	if len(relations) > 0 {
		b.WriteString("\n")
	}

	for i, r := range relations {
		fmt.Fprintf(&b, "pso:s_%d a rdf:Statement ;\n", i+1)
		fmt.Fprintf(&b, "    rdf:subject %s ;\n", entityNode(r.Subject))
		fmt.Fprintf(&b, "    rdf:predicate %s ;\n", relationIRI(r.Predicate))
		fmt.Fprintf(&b, "    rdf:object %s ;\n", entityNode(r.Object))
		fmt.Fprintf(&b, "    pso:inStage %s .\n\n", stageList(r.Provenance))
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// restrict returns the part of the snapshot asserted in the given stage.
// Provenance is kept intact so the result still shows where facts came from.
func restrict(snap graph.Snapshot, stage int) graph.Snapshot {
	out := graph.Snapshot{LastStage: snap.LastStage}
	for _, e := range snap.Entities {
		if e.Provenance.Contains(stage) {
			out.Entities = append(out.Entities, e)
		}
	}
	for _, r := range snap.Relations {
		if r.Provenance.Contains(stage) {
			out.Relations = append(out.Relations, r)
		}
	}
	return out
}
