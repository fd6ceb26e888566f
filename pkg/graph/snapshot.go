package graph

import (
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// Snapshot is an immutable deep copy of a graph. Entities are in creation
// order and relations in insertion order.
type Snapshot struct {
	Entities  []common.Entity   `json:"entities"`
	Relations []common.Relation `json:"relations"`
	LastStage int               `json:"last_stage"`
}

// Snapshot returns the snapshot itself, so a Snapshot can be handed to
// anything that reads from a Graph.
func (s Snapshot) Snapshot() Snapshot {
	return s
}

// Entity looks up an entity by id.
func (s Snapshot) Entity(id string) (common.Entity, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return common.Entity{}, false
}

// EntityMap indexes the snapshot entities by id.
func (s Snapshot) EntityMap() map[string]common.Entity {
	out := make(map[string]common.Entity, len(s.Entities))
	for _, e := range s.Entities {
		out[e.ID] = e
	}
	return out
}

// Stats summarizes a graph.
type Stats struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	LastStage int `json:"last_stage"`
}

// Stats returns the entity and relation counts of the snapshot.
func (s Snapshot) Stats() Stats {
	return Stats{
		Entities:  len(s.Entities),
		Relations: len(s.Relations),
		LastStage: s.LastStage,
	}
}
