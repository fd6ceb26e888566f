package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrGraphConsistency is fatal. The merge is aborted, the graph keeps
	// its previous state and rejects every further merge.
	ErrGraphConsistency = errors.New("graph consistency violated")
	// ErrMergeInProgress is returned when another merge holds the graph.
	ErrMergeInProgress = errors.New("merge already in progress")
	// ErrStageOutOfOrder is returned for a stage lower than the last merged one.
	ErrStageOutOfOrder = errors.New("stage out of order")
	// ErrInvalidStage is returned for a stage outside 1..7 or a candidate set
	// that belongs to a different stage.
	ErrInvalidStage = errors.New("invalid stage")
	// ErrIDGeneration is returned when the id generator fails. The merge is
	// aborted but the graph stays usable.
	ErrIDGeneration = errors.New("id generation failed")
)

// UnresolvedRelationWarning reports a relation whose endpoints could not be
// found in the payload nor in the graph. The relation is dropped.
type UnresolvedRelationWarning struct {
	Stage     int      `json:"stage"`
	Subject   string   `json:"subject"`
	Predicate string   `json:"predicate"`
	Object    string   `json:"object"`
	Missing   []string `json:"missing"`
}

func (w UnresolvedRelationWarning) String() string {
	return fmt.Sprintf(
		"stage %d: dropped %q -%s-> %q (unresolved %s)",
		w.Stage, w.Subject, w.Predicate, w.Object, strings.Join(w.Missing, ", "),
	)
}

type consistencyError struct {
	reason string
}

func (e *consistencyError) Error() string {
	return ErrGraphConsistency.Error() + ": " + e.reason
}

func (e *consistencyError) Unwrap() error {
	return ErrGraphConsistency
}

func inconsistent(format string, args ...any) error {
	return &consistencyError{reason: fmt.Sprintf(format, args...)}
}
