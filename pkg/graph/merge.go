package graph

import (
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
)

// MergeReport summarizes the effect of one merge.
type MergeReport struct {
	Stage               int                         `json:"stage"`
	NewEntities         int                         `json:"new_entities"`
	UpdatedEntities     int                         `json:"updated_entities"`
	NewRelations        int                         `json:"new_relations"`
	ReinforcedRelations int                         `json:"reinforced_relations"`
	DroppedRelations    int                         `json:"dropped_relations"`
	EntityIDs           []string                    `json:"entity_ids"`
	RelationKeys        []common.TripleKey          `json:"relation_keys"`
	Warnings            []UnresolvedRelationWarning `json:"warnings"`
	Conflicts           []AttributeConflict         `json:"conflicts"`
	Notes               []string                    `json:"notes"`
}

// AttributeConflict records a later stage proposing a different value for
// an attribute that is already set. The first value is kept.
type AttributeConflict struct {
	EntityID string       `json:"entity_id"`
	Key      string       `json:"key"`
	Kept     common.Value `json:"kept"`
	Rejected common.Value `json:"rejected"`
	Stage    int          `json:"stage"`
}

// Merge folds the candidates of one stage into the graph.
//
// Entities are resolved or registered by canonical key, attributes are
// unioned with the first writer winning, and the stage is appended to the
// provenance of every entity and relation it asserts. Relation endpoints
// the payload could not resolve are looked up in the graph after all
// entities of the stage are registered; relations that still do not
// resolve are dropped and reported as warnings.
//
// Merge is atomic. It fails with ErrMergeInProgress when another merge is
// running, ErrStageOutOfOrder when stage is lower than the last merged
// stage and ErrGraphConsistency when the result violates a graph
// invariant. In the last case the graph keeps its previous state and
// refuses every further merge. A failing id generator yields
// ErrIDGeneration and leaves the graph usable.
func (g *Graph) Merge(stage int, set *common.CandidateSet) (MergeReport, error) {
	report := MergeReport{Stage: stage}

	if !common.ValidStage(stage) {
		return report, fmt.Errorf("%w: %d", ErrInvalidStage, stage)
	}
	if set == nil {
		set = &common.CandidateSet{Stage: stage}
	}
	if set.Stage != 0 && set.Stage != stage {
		return report, fmt.Errorf("%w: candidates belong to stage %d, not %d", ErrInvalidStage, set.Stage, stage)
	}

	if !g.merging.TryAcquire(1) {
		return report, ErrMergeInProgress
	}
	defer g.merging.Release(1)

	g.mu.RLock()
	current, poisoned := g.st, g.poisoned
	g.mu.RUnlock()

	if poisoned != nil {
		return report, fmt.Errorf("graph rejected merge of stage %d: %w", stage, poisoned)
	}
	if stage < current.lastStage {
		return report, fmt.Errorf("%w: stage %d after stage %d", ErrStageOutOfOrder, stage, current.lastStage)
	}

	work := current.clone()
	if err := apply(work, stage, set, &report); err != nil {
		if !errors.Is(err, ErrGraphConsistency) {
			return MergeReport{Stage: stage}, fmt.Errorf("merge of stage %d failed: %w", stage, err)
		}
		return MergeReport{Stage: stage}, g.poison(stage, err)
	}
	if err := verify(current, work); err != nil {
		return MergeReport{Stage: stage}, g.poison(stage, err)
	}

	g.mu.Lock()
	g.st = work
	g.mu.Unlock()

	logger.Info(
		"[Merge] merged stage",
		"stage", stage,
		"new_entities", report.NewEntities,
		"updated_entities", report.UpdatedEntities,
		"new_relations", report.NewRelations,
		"reinforced_relations", report.ReinforcedRelations,
		"dropped_relations", report.DroppedRelations,
	)
	return report, nil
}

func (g *Graph) poison(stage int, err error) error {
	logger.Error("[Merge] graph consistency violated, rejecting further merges", "stage", stage, "err", err)
	g.mu.Lock()
	g.poisoned = err
	g.mu.Unlock()
	return fmt.Errorf("merge of stage %d failed: %w", stage, err)
}

func apply(work *state, stage int, set *common.CandidateSet, report *MergeReport) error {
	report.Notes = append(report.Notes, set.Notes...)

	created := make(map[string]bool)
	updated := make(map[string]bool)
	localIDs := make([]string, len(set.Entities))

	touch := func(id string) error {
		e, ok := work.entities[id]
		if !ok {
			return inconsistent("entity %s is indexed but missing", id)
		}
		var changed bool
		e.Provenance, changed = e.Provenance.Add(stage)
		if changed && !created[id] {
			updated[id] = true
		}
		return nil
	}

	for i, c := range set.Entities {
		id, isNew, err := work.index.Register(c)
		if err != nil {
			return fmt.Errorf("%w for %q: %v", ErrIDGeneration, c.Label, err)
		}
		localIDs[i] = id

		if isNew {
			if _, exists := work.entities[id]; exists {
				return inconsistent("id %s minted twice", id)
			}
			attrs := c.Attributes.Clone()
			work.entities[id] = &common.Entity{
				ID:         id,
				Label:      c.Label,
				Type:       c.Type,
				Attributes: attrs,
				Provenance: common.Provenance{stage},
			}
			work.order = append(work.order, id)
			created[id] = true
			report.EntityIDs = append(report.EntityIDs, id)
			continue
		}

		if err := touch(id); err != nil {
			return err
		}
		e := work.entities[id]
		for _, k := range c.Attributes.Keys() {
			v := c.Attributes[k]
			kept, exists := e.Attributes[k]
			if !exists {
				if e.Attributes == nil {
					e.Attributes = common.Attributes{}
				}
				e.Attributes[k] = v
				if !created[id] {
					updated[id] = true
				}
				continue
			}
			if kept != v {
				report.Conflicts = append(report.Conflicts, AttributeConflict{
					EntityID: id,
					Key:      k,
					Kept:     kept,
					Rejected: v,
					Stage:    stage,
				})
			}
		}
	}

	for _, r := range set.Relations {
		subject := endpoint(localIDs, r.SubjectIndex)
		object := endpoint(localIDs, r.ObjectIndex)

		var missing []string
		if subject == "" {
			if id, ok := work.resolveRef(r.Subject); ok {
				subject = id
			} else {
				missing = append(missing, "subject")
			}
		}
		if object == "" {
			if id, ok := work.resolveRef(r.Object); ok {
				object = id
			} else {
				missing = append(missing, "object")
			}
		}

		if len(missing) > 0 {
			w := UnresolvedRelationWarning{
				Stage:     stage,
				Subject:   r.Subject,
				Predicate: r.Predicate,
				Object:    r.Object,
				Missing:   missing,
			}
			report.Warnings = append(report.Warnings, w)
			report.DroppedRelations++
			logger.Warn("[Merge] dropped unresolved relation", "stage", stage, "relation", w.String())
			continue
		}

		key := common.TripleKey{Subject: subject, Predicate: r.Predicate, Object: object}
		if rel, ok := work.relations[key]; ok {
			var changed bool
			rel.Provenance, changed = rel.Provenance.Add(stage)
			if changed {
				report.ReinforcedRelations++
			}
		} else {
			work.relations[key] = &common.Relation{
				Subject:    subject,
				Predicate:  r.Predicate,
				Object:     object,
				Provenance: common.Provenance{stage},
			}
			work.relOrder = append(work.relOrder, key)
			report.NewRelations++
			report.RelationKeys = append(report.RelationKeys, key)
		}

		if err := touch(subject); err != nil {
			return err
		}
		if err := touch(object); err != nil {
			return err
		}
	}

	if stage > work.lastStage {
		work.lastStage = stage
	}
	report.NewEntities = len(created)
	report.UpdatedEntities = len(updated)
	return nil
}

func endpoint(localIDs []string, idx int) string {
	if idx < 0 || idx >= len(localIDs) {
		return ""
	}
	return localIDs[idx]
}
