package export

import (
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
)

// Node is a renderer-independent description of an entity.
type Node struct {
	ID     string            `json:"id"`
	Label  string            `json:"label"`
	Type   common.EntityType `json:"type"`
	Stages common.Provenance `json:"stages"`
}

// Edge is a renderer-independent description of a relation.
type Edge struct {
	Source    string            `json:"source"`
	Target    string            `json:"target"`
	Predicate string            `json:"predicate"`
	Stages    common.Provenance `json:"stages"`
}

// Layout is the node and edge lists handed to report renderers.
type Layout struct {
	Stage int    `json:"stage,omitempty"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// ToLayout describes the whole graph as nodes and edges, in the same
// deterministic order as the Turtle export.
func ToLayout(src Source) Layout {
	return layoutOf(src.Snapshot(), 0)
}

// StageLayout is ToLayout restricted to facts asserted in the given stage.
func StageLayout(src Source, stage int) Layout {
	return layoutOf(restrict(src.Snapshot(), stage), stage)
}

func layoutOf(snap graph.Snapshot, stage int) Layout {
	l := Layout{
		Stage: stage,
		Nodes: make([]Node, 0, len(snap.Entities)),
		Edges: make([]Edge, 0, len(snap.Relations)),
	}
	for _, e := range sortedEntities(snap) {
		l.Nodes = append(l.Nodes, Node{
			ID:     e.ID,
			Label:  e.Label,
			Type:   e.Type,
			Stages: e.Provenance,
		})
	}
	for _, r := range sortedRelations(snap) {
		l.Edges = append(l.Edges, Edge{
			Source:    r.Subject,
			Target:    r.Object,
			Predicate: r.Predicate,
			Stages:    r.Provenance,
		})
	}
	return l
}
