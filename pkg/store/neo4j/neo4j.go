package neo4j

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const writeChunkSize = 500

// MirrorStorage implements store.Sink by mirroring each session graph into
// Neo4j. Entities become (:Entity) nodes keyed by session and id, relations
// become [:RELATES] edges keyed by predicate.
type MirrorStorage struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewMirrorStorageParams configures the Neo4j connection.
type NewMirrorStorageParams struct {
	URI      string
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// NewMirrorStorage connects to Neo4j, verifies connectivity and creates the
// uniqueness constraints the mirror relies on.
func NewMirrorStorage(ctx context.Context, params NewMirrorStorageParams) (*MirrorStorage, error) {
	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Second
	}
	user := strings.TrimSpace(params.User)
	if user == "" {
		user = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(
		params.URI,
		neo4j.BasicAuth(user, params.Password, ""),
		func(cfg *neo4j.Config) {
			cfg.SocketConnectTimeout = params.Timeout
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}

	s := &MirrorStorage{driver: driver, database: params.Database}
	s.initSchema(ctx)
	return s, nil
}

func (s *MirrorStorage) initSchema(ctx context.Context) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT stagegraph_session_id IF NOT EXISTS FOR (s:Session) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT stagegraph_entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE (e.session_id, e.id) IS UNIQUE`,
	}
	for _, q := range stmts {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			logger.Warn("[Neo4j] schema init failed", "err", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

func (s *MirrorStorage) Name() string {
	return "neo4j"
}

// Close releases the driver.
func (s *MirrorStorage) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// SaveStage upserts the whole graph of the artifact. Nodes and edges are
// only ever added or updated since the graph itself never shrinks.
func (s *MirrorStorage) SaveStage(ctx context.Context, a store.StageArtifact) error {
	nodes, edges := layoutParams(a.SessionID, a.Layout)
	now := a.CompletedAt.UTC().Format(time.RFC3339Nano)

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := run(ctx, tx, `
MERGE (s:Session {id: $session_id})
SET s.owner_id = $owner_id,
    s.last_stage = $last_stage,
    s.synced_at = $synced_at
`, map[string]any{
			"session_id": a.SessionID,
			"owner_id":   a.OwnerID,
			"last_stage": a.Stats.LastStage,
			"synced_at":  now,
		}); err != nil {
			return nil, err
		}

		if err := store.ChunkRange(len(nodes), writeChunkSize, func(start, end int) error {
			return run(ctx, tx, `
UNWIND $nodes AS n
MATCH (s:Session {id: n.session_id})
MERGE (e:Entity {session_id: n.session_id, id: n.id})
SET e.label = n.label,
    e.type = n.type,
    e.stages = n.stages
MERGE (s)-[:HAS_ENTITY]->(e)
`, map[string]any{"nodes": nodes[start:end]})
		}); err != nil {
			return nil, err
		}

		if err := store.ChunkRange(len(edges), writeChunkSize, func(start, end int) error {
			return run(ctx, tx, `
UNWIND $edges AS r
MATCH (a:Entity {session_id: r.session_id, id: r.source})
MATCH (b:Entity {session_id: r.session_id, id: r.target})
MERGE (a)-[x:RELATES {predicate: r.predicate}]->(b)
SET x.stages = r.stages
`, map[string]any{"edges": edges[start:end]})
		}); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror session %s: %w", a.SessionID, err)
	}
	return nil
}

// DeleteSession removes the session node and every entity attached to it.
func (s *MirrorStorage) DeleteSession(ctx context.Context, sessionID string) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, `
MATCH (s:Session {id: $session_id})
OPTIONAL MATCH (s)-[:HAS_ENTITY]->(e:Entity)
DETACH DELETE e, s
`, map[string]any{"session_id": sessionID})
	})
	if err != nil {
		return fmt.Errorf("failed to delete mirrored session %s: %w", sessionID, err)
	}
	return nil
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// layoutParams flattens a layout into Cypher parameter maps.
func layoutParams(sessionID string, l export.Layout) ([]map[string]any, []map[string]any) {
	nodes := make([]map[string]any, 0, len(l.Nodes))
	for _, n := range l.Nodes {
		nodes = append(nodes, map[string]any{
			"session_id": sessionID,
			"id":         n.ID,
			"label":      n.Label,
			"type":       string(n.Type),
			"stages":     stageList(n.Stages),
		})
	}
	edges := make([]map[string]any, 0, len(l.Edges))
	for _, e := range l.Edges {
		edges = append(edges, map[string]any{
			"session_id": sessionID,
			"source":     e.Source,
			"target":     e.Target,
			"predicate":  e.Predicate,
			"stages":     stageList(e.Stages),
		})
	}
	return nodes, edges
}

// stageList converts stages to int64, the integer type the driver sends.
func stageList(stages []int) []int64 {
	out := make([]int64, len(stages))
	for i, s := range stages {
		out[i] = int64(s)
	}
	return out
}
