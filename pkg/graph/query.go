package graph

import (
	"slices"
	"strings"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// Filter selects facts from a graph. Zero fields match everything.
//
// Types, LabelContains and IntroducedInStage restrict entities;
// IntroducedInStage and Predicate restrict relations. When an entity
// restriction is set, only relations touching a matching entity are
// returned. AssertedInStage matches any fact whose provenance holds the
// stage, not only facts introduced by it.
type Filter struct {
	Types             []common.EntityType `query:"type"`
	LabelContains     string              `query:"label"`
	IntroducedInStage int                 `query:"introduced"`
	AssertedInStage   int                 `query:"stage"`
	Predicate         string              `query:"predicate"`
}

// QueryResult holds the facts matched by a Filter.
type QueryResult struct {
	Entities  []common.Entity   `json:"entities"`
	Relations []common.Relation `json:"relations"`
}

func (f Filter) entityRestricted() bool {
	return len(f.Types) > 0 || f.LabelContains != ""
}

func (f Filter) matchStages(p common.Provenance) bool {
	if f.IntroducedInStage != 0 && p.First() != f.IntroducedInStage {
		return false
	}
	if f.AssertedInStage != 0 && !p.Contains(f.AssertedInStage) {
		return false
	}
	return true
}

func (f Filter) matchEntity(e *common.Entity) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.LabelContains != "" && !strings.Contains(strings.ToLower(e.Label), strings.ToLower(f.LabelContains)) {
		return false
	}
	return f.matchStages(e.Provenance)
}

// Query returns copies of the facts matching the filter, in creation order.
func (g *Graph) Query(f Filter) QueryResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var res QueryResult
	matched := make(map[string]bool)
	for _, id := range g.st.order {
		e := g.st.entities[id]
		if f.matchEntity(e) {
			res.Entities = append(res.Entities, e.Clone())
			matched[id] = true
		}
	}

	for _, k := range g.st.relOrder {
		r := g.st.relations[k]
		if f.Predicate != "" && r.Predicate != f.Predicate {
			continue
		}
		if !f.matchStages(r.Provenance) {
			continue
		}
		if f.entityRestricted() && !matched[r.Subject] && !matched[r.Object] {
			continue
		}
		res.Relations = append(res.Relations, r.Clone())
	}

	return res
}
