package store

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/summary"
)

// StageArtifact is everything a completed stage produced. Sinks receive it
// after the merge has been committed.
type StageArtifact struct {
	SessionID string
	OwnerID   string
	Record    common.StageRecord
	Report    graph.MergeReport
	QA        []summary.Pair

	// Turtle is the whole graph after the merge, StageTurtle only the facts
	// asserted by this stage. Layout describes the whole graph.
	Turtle      string
	StageTurtle string
	Layout      export.Layout
	Stats       graph.Stats

	CompletedAt time.Time
}

// Sink persists or forwards stage artifacts. Sinks run after the merge and
// never affect the in-memory graph; a failing sink is reported, not retried.
type Sink interface {
	Name() string
	SaveStage(ctx context.Context, a StageArtifact) error
	DeleteSession(ctx context.Context, sessionID string) error
}
