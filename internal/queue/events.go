package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"
)

// StageEvent announces a merged stage to other services.
type StageEvent struct {
	Type         string      `json:"type"`
	SessionID    string      `json:"session_id"`
	OwnerID      string      `json:"owner_id"`
	Stage        int         `json:"stage"`
	Title        string      `json:"title,omitempty"`
	NewEntities  int         `json:"new_entities"`
	NewRelations int         `json:"new_relations"`
	Dropped      int         `json:"dropped_relations"`
	Conflicts    int         `json:"conflicts"`
	Graph        graph.Stats `json:"graph"`
	At           time.Time   `json:"at"`
}

const (
	EventStageMerged   = "stage.merged"
	EventSessionClosed = "session.deleted"
)

// EventSink implements store.Sink by publishing StageEvents. Routing keys
// are "stage.<n>.merged" and "session.deleted".
type EventSink struct {
	ch       publisher
	exchange string
}

func NewEventSink(ch publisher, exchange string) *EventSink {
	return &EventSink{ch: ch, exchange: exchange}
}

func (s *EventSink) Name() string {
	return "amqp"
}

func (s *EventSink) SaveStage(ctx context.Context, a store.StageArtifact) error {
	ev := StageEvent{
		Type:         EventStageMerged,
		SessionID:    a.SessionID,
		OwnerID:      a.OwnerID,
		Stage:        a.Record.Stage,
		Title:        a.Record.Title,
		NewEntities:  a.Report.NewEntities,
		NewRelations: a.Report.NewRelations,
		Dropped:      a.Report.DroppedRelations,
		Conflicts:    len(a.Report.Conflicts),
		Graph:        a.Stats,
		At:           a.CompletedAt,
	}
	return s.publish(ctx, fmt.Sprintf("stage.%d.merged", ev.Stage), ev)
}

func (s *EventSink) DeleteSession(ctx context.Context, sessionID string) error {
	return s.publish(ctx, EventSessionClosed, StageEvent{
		Type:      EventSessionClosed,
		SessionID: sessionID,
		At:        time.Now().UTC(),
	})
}

func (s *EventSink) publish(ctx context.Context, topic string, ev StageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := PublishTopic(ctx, s.ch, s.exchange, topic, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}
