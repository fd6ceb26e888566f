package graph

import (
	"errors"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// verify checks the invariants of next and that it grew monotonically
// from prev.
func verify(prev, next *state) error {
	if len(next.order) != len(next.entities) {
		return inconsistent("%d ordered entities but %d stored", len(next.order), len(next.entities))
	}
	if len(next.relOrder) != len(next.relations) {
		return inconsistent("%d ordered relations but %d stored", len(next.relOrder), len(next.relations))
	}
	if next.index.Len() != len(next.entities) {
		return inconsistent("index holds %d keys for %d entities", next.index.Len(), len(next.entities))
	}

	for _, id := range next.order {
		e, ok := next.entities[id]
		if !ok {
			return inconsistent("entity %s is ordered but missing", id)
		}
		if e.ID != id {
			return inconsistent("entity stored under %s carries id %s", id, e.ID)
		}
		indexed, ok := next.index.Resolve(common.CandidateEntity{Label: e.Label, Type: e.Type})
		if !ok || indexed != id {
			return inconsistent("entity %s is not indexed under its canonical key", id)
		}
		if err := verifyProvenance(e.Provenance); err != nil {
			return inconsistent("entity %s: %v", id, err)
		}
	}

	for _, k := range next.relOrder {
		r, ok := next.relations[k]
		if !ok {
			return inconsistent("relation %v is ordered but missing", k)
		}
		if r.Key() != k {
			return inconsistent("relation stored under %v carries key %v", k, r.Key())
		}
		if _, ok := next.entities[r.Subject]; !ok {
			return inconsistent("relation %v has a dangling subject", k)
		}
		if _, ok := next.entities[r.Object]; !ok {
			return inconsistent("relation %v has a dangling object", k)
		}
		if err := verifyProvenance(r.Provenance); err != nil {
			return inconsistent("relation %v: %v", k, err)
		}
	}

	for id, e := range prev.entities {
		n, ok := next.entities[id]
		if !ok {
			return inconsistent("entity %s disappeared", id)
		}
		if len(n.Provenance) < len(e.Provenance) {
			return inconsistent("provenance of entity %s shrank", id)
		}
		for k, v := range e.Attributes {
			if n.Attributes[k] != v {
				return inconsistent("attribute %q of entity %s was overwritten", k, id)
			}
		}
	}
	for k, r := range prev.relations {
		n, ok := next.relations[k]
		if !ok {
			return inconsistent("relation %v disappeared", k)
		}
		if len(n.Provenance) < len(r.Provenance) {
			return inconsistent("provenance of relation %v shrank", k)
		}
	}

	return nil
}

func verifyProvenance(p common.Provenance) error {
	if len(p) == 0 {
		return errors.New("empty provenance")
	}
	seen := make(map[int]bool, len(p))
	for _, s := range p {
		if !common.ValidStage(s) {
			return errors.New("provenance holds unknown stage")
		}
		if seen[s] {
			return errors.New("provenance holds a duplicate stage")
		}
		seen[s] = true
	}
	return nil
}
