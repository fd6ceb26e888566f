package graph

import (
	"testing"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

func buildQueryGraph(t *testing.T) *Graph {
	t.Helper()
	g := newTestGraph()
	mustMerge(t, g, 1, `{"entities":[{"label":"Slow Load Time","type":"Problem"},{"label":"Large Images","type":"Subproblem"}],
		"relations":[{"subject":"Slow Load Time","predicate":"hasSubproblem","object":"Large Images"}]}`)
	mustMerge(t, g, 3, `{"entities":[{"label":"CDN Rollout","type":"Solution"},{"label":"Image Compression","type":"Solution"}],
		"relations":[{"subject":"CDN Rollout","predicate":"solves","object":"Slow Load Time"},
		             {"subject":"Image Compression","predicate":"solves","object":"Large Images"}]}`)
	return g
}

func labels(entities []common.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.Label)
	}
	return out
}

func TestQuery(t *testing.T) {
	g := buildQueryGraph(t)

	tests := []struct {
		name          string
		filter        Filter
		wantEntities  []string
		wantRelations int
	}{
		{
			name:          "everything",
			filter:        Filter{},
			wantEntities:  []string{"Slow Load Time", "Large Images", "CDN Rollout", "Image Compression"},
			wantRelations: 3,
		},
		{
			name:          "by type",
			filter:        Filter{Types: []common.EntityType{common.TypeSolution}},
			wantEntities:  []string{"CDN Rollout", "Image Compression"},
			wantRelations: 2,
		},
		{
			name:          "by label substring",
			filter:        Filter{LabelContains: "IMAGE"},
			wantEntities:  []string{"Large Images", "Image Compression"},
			wantRelations: 2,
		},
		{
			name:          "introduced in stage",
			filter:        Filter{IntroducedInStage: 1},
			wantEntities:  []string{"Slow Load Time", "Large Images"},
			wantRelations: 1,
		},
		{
			name:          "asserted in stage",
			filter:        Filter{AssertedInStage: 3},
			wantEntities:  []string{"Slow Load Time", "Large Images", "CDN Rollout", "Image Compression"},
			wantRelations: 2,
		},
		{
			name:          "by predicate",
			filter:        Filter{Predicate: "solves"},
			wantEntities:  []string{"Slow Load Time", "Large Images", "CDN Rollout", "Image Compression"},
			wantRelations: 2,
		},
		{
			name:          "no match",
			filter:        Filter{Types: []common.EntityType{common.TypeRisk}},
			wantEntities:  []string{},
			wantRelations: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.Query(tt.filter)
			got := labels(res.Entities)
			if len(got) != len(tt.wantEntities) {
				t.Fatalf("unexpected entities: got %v, want %v", got, tt.wantEntities)
			}
			for i := range got {
				if got[i] != tt.wantEntities[i] {
					t.Fatalf("unexpected entities: got %v, want %v", got, tt.wantEntities)
				}
			}
			if len(res.Relations) != tt.wantRelations {
				t.Fatalf("unexpected relation count: got %d, want %d", len(res.Relations), tt.wantRelations)
			}
		})
	}
}

func TestIndex_RegisterResolve(t *testing.T) {
	x := newIndex(sequentialIDs())
	c := common.CandidateEntity{Label: "Budget", Type: common.TypeResource}

	if _, ok := x.Resolve(c); ok {
		t.Fatal("empty index should not resolve")
	}
	id, created, err := x.Register(c)
	if err != nil || !created {
		t.Fatalf("Register() = %q, %v, %v", id, created, err)
	}
	again, created, err := x.Register(common.CandidateEntity{Label: " budget ", Type: common.TypeResource})
	if err != nil || created || again != id {
		t.Fatalf("second Register() = %q, %v, %v; want %q, false, nil", again, created, err, id)
	}
	if got, ok := x.ResolveLabel("BUDGET"); !ok || got != id {
		t.Fatalf("ResolveLabel() = %q, %v", got, ok)
	}

	other, _, _ := x.Register(common.CandidateEntity{Label: "Budget", Type: common.TypeConstraint})
	if other == id {
		t.Fatal("different types must get different ids")
	}
	if got, _ := x.ResolveLabel("budget"); got != id {
		t.Fatalf("label lookup should keep the earliest entity, got %q", got)
	}
}
