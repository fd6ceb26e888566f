package graph

import (
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// state is the arena behind a Graph. A merge works on a clone and the clone
// replaces the live state only after verification.
type state struct {
	index     *Index
	entities  map[string]*common.Entity
	order     []string
	relations map[common.TripleKey]*common.Relation
	relOrder  []common.TripleKey
	lastStage int
}

func newState(newID IDGenerator) *state {
	return &state{
		index:     newIndex(newID),
		entities:  make(map[string]*common.Entity),
		relations: make(map[common.TripleKey]*common.Relation),
	}
}

func (s *state) clone() *state {
	out := &state{
		index:     s.index.clone(),
		entities:  make(map[string]*common.Entity, len(s.entities)),
		order:     append([]string(nil), s.order...),
		relations: make(map[common.TripleKey]*common.Relation, len(s.relations)),
		relOrder:  append([]common.TripleKey(nil), s.relOrder...),
		lastStage: s.lastStage,
	}
	for id, e := range s.entities {
		c := e.Clone()
		out.entities[id] = &c
	}
	for k, r := range s.relations {
		c := r.Clone()
		out.relations[k] = &c
	}
	return out
}

// resolveRef looks up a relation endpoint that was not found in its own
// payload: first as a canonical id, then as a label.
func (s *state) resolveRef(ref string) (string, bool) {
	if _, ok := s.entities[ref]; ok {
		return ref, true
	}
	return s.index.ResolveLabel(ref)
}

func (s *state) snapshot() Snapshot {
	snap := Snapshot{
		Entities:  make([]common.Entity, 0, len(s.order)),
		Relations: make([]common.Relation, 0, len(s.relOrder)),
		LastStage: s.lastStage,
	}
	for _, id := range s.order {
		snap.Entities = append(snap.Entities, s.entities[id].Clone())
	}
	for _, k := range s.relOrder {
		snap.Relations = append(snap.Relations, s.relations[k].Clone())
	}
	return snap
}
