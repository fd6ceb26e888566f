package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"

	"github.com/rabbitmq/amqp091-go"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (f *fakeChannel) PublishWithContext(
	_ context.Context,
	exchange string,
	key string,
	_ bool,
	_ bool,
	msg amqp091.Publishing,
) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestEventSink_SaveStage(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewEventSink(ch, "stagegraph.events")

	err := sink.SaveStage(context.Background(), store.StageArtifact{
		SessionID: "s1",
		OwnerID:   "u1",
		Record:    common.StageRecord{Stage: 4, Title: "Select the Best Solution"},
		Report:    graph.MergeReport{Stage: 4, NewEntities: 2, NewRelations: 1},
		Stats:     graph.Stats{Entities: 9, Relations: 5, LastStage: 4},
	})
	if err != nil {
		t.Fatalf("SaveStage() error = %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.sent))
	}

	msg := ch.sent[0]
	if msg.exchange != "stagegraph.events" || msg.key != "stage.4.merged" {
		t.Fatalf("unexpected routing: %s %s", msg.exchange, msg.key)
	}
	if msg.msg.DeliveryMode != amqp091.Persistent {
		t.Fatal("expected persistent delivery")
	}

	var ev StageEvent
	if err := json.Unmarshal(msg.msg.Body, &ev); err != nil {
		t.Fatalf("invalid event body: %v", err)
	}
	if ev.Type != EventStageMerged || ev.SessionID != "s1" || ev.NewEntities != 2 || ev.Graph.Entities != 9 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEventSink_PublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	sink := NewEventSink(ch, "x")
	if err := sink.DeleteSession(context.Background(), "s1"); err == nil {
		t.Fatal("expected publish error")
	}
}
