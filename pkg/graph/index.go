package graph

import (
	"maps"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
)

// IDGenerator mints canonical entity ids.
type IDGenerator func() (string, error)

// Index maps canonical keys (normalized label + type) to entity ids. It is
// the only place where deduplication decisions are made.
type Index struct {
	byKey   map[string]string
	byLabel map[string]string
	newID   IDGenerator
}

func newIndex(newID IDGenerator) *Index {
	return &Index{
		byKey:   make(map[string]string),
		byLabel: make(map[string]string),
		newID:   newID,
	}
}

// Resolve returns the canonical id for the candidate, if one exists.
func (x *Index) Resolve(c common.CandidateEntity) (string, bool) {
	id, ok := x.byKey[common.CanonicalKey(c.Label, c.Type)]
	return id, ok
}

// ResolveLabel finds an entity by normalized label alone, ignoring its type.
// When several entities share the label the earliest registered one wins.
func (x *Index) ResolveLabel(label string) (string, bool) {
	id, ok := x.byLabel[common.NormalizeLabel(label)]
	return id, ok
}

// Register returns the existing id for the candidate or mints a new one and
// records the mapping. created reports whether an id was minted.
func (x *Index) Register(c common.CandidateEntity) (id string, created bool, err error) {
	key := common.CanonicalKey(c.Label, c.Type)
	if id, ok := x.byKey[key]; ok {
		return id, false, nil
	}

	id, err = x.newID()
	if err != nil {
		return "", false, err
	}
	x.byKey[key] = id

	label := common.NormalizeLabel(c.Label)
	if _, ok := x.byLabel[label]; !ok {
		x.byLabel[label] = id
	}
	return id, true, nil
}

// Len returns the number of registered keys.
func (x *Index) Len() int {
	return len(x.byKey)
}

func (x *Index) clone() *Index {
	return &Index{
		byKey:   maps.Clone(x.byKey),
		byLabel: maps.Clone(x.byLabel),
		newID:   x.newID,
	}
}
