package graph

import (
	"sync"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/semaphore"
)

// Graph is the session-scoped knowledge graph accumulated across the seven
// stages. Merge is the only mutator; readers always see the state before or
// after a merge, never in between.
//
// A Graph should be created using NewGraph.
type Graph struct {
	mu       sync.RWMutex
	merging  *semaphore.Weighted
	st       *state
	poisoned error
}

// NewGraphParams configures a new Graph.
//
// IDGenerator mints canonical entity ids and defaults to nanoid.
type NewGraphParams struct {
	IDGenerator IDGenerator
}

// NewGraph creates an empty graph.
//
// Example:
//
//	g := graph.NewGraph(graph.NewGraphParams{})
//	set, err := extract.Normalize(1, payload)
//	if err != nil {
//		return err
//	}
//	report, err := g.Merge(1, set)
func NewGraph(params NewGraphParams) *Graph {
	newID := params.IDGenerator
	if newID == nil {
		newID = func() (string, error) { return gonanoid.New() }
	}
	return &Graph{
		merging: semaphore.NewWeighted(1),
		st:      newState(newID),
	}
}

// Snapshot returns an immutable deep copy of the current graph.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.snapshot()
}

// Stats returns the entity and relation counts without copying the graph.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Entities:  len(g.st.entities),
		Relations: len(g.st.relations),
		LastStage: g.st.lastStage,
	}
}

// Entity returns a copy of the entity with the given canonical id.
func (g *Graph) Entity(id string) (common.Entity, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.st.entities[id]
	if !ok {
		return common.Entity{}, false
	}
	return e.Clone(), true
}

// Resolve returns the canonical id for a label and type, if it is known.
func (g *Graph) Resolve(label string, typ common.EntityType) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.index.Resolve(common.CandidateEntity{Label: label, Type: typ})
}

// Err returns the consistency error that poisoned the graph, or nil.
func (g *Graph) Err() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.poisoned
}
