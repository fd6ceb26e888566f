package pgx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/stagegraph/internal/util"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const qaInsertChunkSize = 500

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// ArchiveStorage implements store.Sink on PostgreSQL. Every completed stage
// is stored with its Q&A pairs and the Turtle export taken right after it.
// Re-running a stage replaces its rows.
type ArchiveStorage struct {
	conn pgxIConn
}

// NewArchiveStorageWithConnection creates an ArchiveStorage on an existing
// pool or connection. The schema must already be migrated, see Migrate.
func NewArchiveStorageWithConnection(conn pgxIConn) *ArchiveStorage {
	return &ArchiveStorage{conn: conn}
}

func (s *ArchiveStorage) Name() string {
	return "postgres"
}

// SaveStage writes the artifact in a single transaction.
func (s *ArchiveStorage) SaveStage(ctx context.Context, a store.StageArtifact) (err error) {
	report, err := json.Marshal(a.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal merge report: %w", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	stage := a.Record.Stage
	if _, err = tx.Exec(ctx, `
INSERT INTO stage_records (session_id, stage, owner_id, title, input, output, report, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id, stage) DO UPDATE SET
    owner_id = EXCLUDED.owner_id,
    title = EXCLUDED.title,
    input = EXCLUDED.input,
    output = EXCLUDED.output,
    report = EXCLUDED.report,
    created_at = EXCLUDED.created_at`,
		a.SessionID,
		stage,
		a.OwnerID,
		a.Record.Title,
		util.SanitizePostgresText(a.Record.Input),
		util.SanitizePostgresText(a.Record.Output),
		report,
		a.Record.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert stage record: %w", err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM stage_qa WHERE session_id = $1 AND stage = $2`, a.SessionID, stage); err != nil {
		return fmt.Errorf("failed to clear stage qa: %w", err)
	}
	if err = store.ChunkRange(len(a.QA), qaInsertChunkSize, func(start, end int) error {
		positions := make([]int32, 0, end-start)
		questions := make([]string, 0, end-start)
		answers := make([]string, 0, end-start)
		entities := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			labels := a.QA[i].Entities
			if labels == nil {
				labels = []string{}
			}
			b, err := json.Marshal(labels)
			if err != nil {
				return err
			}
			positions = append(positions, int32(i))
			questions = append(questions, util.SanitizePostgresText(a.QA[i].Question))
			answers = append(answers, util.SanitizePostgresText(a.QA[i].Answer))
			entities = append(entities, string(b))
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO stage_qa (session_id, stage, position, question, answer, entities)
SELECT $1, $2, q.position, q.question, q.answer, q.entities::jsonb
FROM unnest($3::int[], $4::text[], $5::text[], $6::text[]) AS q(position, question, answer, entities)`,
			a.SessionID, stage, positions, questions, answers, entities,
		); err != nil {
			return fmt.Errorf("failed to insert stage qa: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, `
INSERT INTO graph_exports (session_id, stage, turtle, stage_turtle, entities, relations, exported_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (session_id, stage) DO UPDATE SET
    turtle = EXCLUDED.turtle,
    stage_turtle = EXCLUDED.stage_turtle,
    entities = EXCLUDED.entities,
    relations = EXCLUDED.relations,
    exported_at = EXCLUDED.exported_at`,
		a.SessionID,
		stage,
		util.SanitizePostgresText(a.Turtle),
		util.SanitizePostgresText(a.StageTurtle),
		a.Stats.Entities,
		a.Stats.Relations,
		a.CompletedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert graph export: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit stage archive: %w", err)
	}
	return nil
}

// DeleteSession removes every archived row of the session.
func (s *ArchiveStorage) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.conn.Exec(ctx, `DELETE FROM stage_records WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session archive: %w", err)
	}
	return nil
}
