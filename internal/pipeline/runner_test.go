package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/pkg/ai"
	"github.com/OFFIS-RIT/stagegraph/pkg/extract"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"
)

type fakeAI struct {
	mu          sync.Mutex
	narrative   string
	qa          string
	payloads    []string
	prompts     []string
	formatCalls int
}

func (f *fakeAI) GenerateCompletion(_ context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if strings.Contains(prompt, "question and answer pairs") {
		return f.qa, nil
	}
	return f.narrative, nil
}

func (f *fakeAI) GenerateCompletionWithFormat(
	_ context.Context,
	_ string,
	_ string,
	_ string,
	out any,
	_ ...ai.GenerateOption,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply := f.payloads[min(f.formatCalls, len(f.payloads)-1)]
	f.formatCalls++
	return ai.UnmarshalFlexible(ai.ExtractJSONBlock(reply), out)
}

func (f *fakeAI) ResetMetrics()               {}
func (f *fakeAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

type recordingSink struct {
	name    string
	err     error
	mu      sync.Mutex
	saved   []store.StageArtifact
	deleted []string
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) SaveStage(_ context.Context, a store.StageArtifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, a)
	return s.err
}

func (s *recordingSink) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return s.err
}

const slowLoadPayload = "```json\n" + `{
  "entities": [
    {"id": "E1", "label": "Slow Load Time", "type": "Problem", "attributes": [{"key": "priority", "value": "high"}]},
    {"id": "E2", "label": "User Drop-off", "type": "Risk", "attributes": []}
  ],
  "relations": [{"subject": "E1", "predicate": "causes", "object": "E2"}]
}` + "\n```"

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	n := 0
	m := session.NewManager(session.NewManagerParams{
		Graph: graph.NewGraphParams{IDGenerator: func() (string, error) {
			n++
			return fmt.Sprintf("id%d", n), nil
		}},
	})
	s, err := m.Create("alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return s
}

func TestRunner_RunStage(t *testing.T) {
	client := &fakeAI{
		narrative: "The site has a slow load time, which causes user drop-off.",
		qa:        "Q1: What is the main problem?\nA1: Slow Load Time causes User Drop-off.",
		payloads:  []string{slowLoadPayload},
	}
	sink := &recordingSink{name: "memory"}
	r := NewRunner(NewRunnerParams{AI: client, Sinks: []store.Sink{sink}, MaxRetries: 3})
	s := newTestSession(t)

	res, err := r.RunStage(context.Background(), s, 1, map[string]string{"problem": "Our checkout page is slow"})
	if err != nil {
		t.Fatalf("RunStage() error = %v", err)
	}

	if res.Report.NewEntities != 2 || res.Report.NewRelations != 1 {
		t.Fatalf("unexpected report: %+v", res.Report)
	}
	if res.Graph.Entities != 2 || res.Graph.LastStage != 1 {
		t.Fatalf("unexpected graph stats: %+v", res.Graph)
	}
	if !strings.Contains(client.prompts[0], "Problem: Our checkout page is slow") {
		t.Fatalf("stage prompt misses the user input:\n%s", client.prompts[0])
	}
	if res.Record.Output != client.narrative || res.Record.Input != `{"problem":"Our checkout page is slow"}` {
		t.Fatalf("unexpected record: %+v", res.Record)
	}

	if len(res.QA) != 1 || !reflect.DeepEqual(res.QA[0].Entities, []string{"Slow Load Time", "User Drop-off"}) {
		t.Fatalf("unexpected q&a: %+v", res.QA)
	}
	if _, ok := s.Record(1); !ok {
		t.Fatal("stage record not stored in session")
	}

	if len(sink.saved) != 1 {
		t.Fatalf("expected one artifact, got %d", len(sink.saved))
	}
	a := sink.saved[0]
	if a.SessionID != s.ID || a.OwnerID != "alice" || !strings.Contains(a.Turtle, `rdfs:label "Slow Load Time"`) {
		t.Fatalf("unexpected artifact: %+v", a)
	}
	if len(a.Layout.Nodes) != 2 || len(a.Layout.Edges) != 1 {
		t.Fatalf("unexpected layout: %+v", a.Layout)
	}
	if res.SinkErrors != nil {
		t.Fatalf("unexpected sink errors: %v", res.SinkErrors)
	}
}

func TestRunner_RetriesMalformedPayload(t *testing.T) {
	client := &fakeAI{
		narrative: "text",
		payloads: []string{
			`{"entities": [{"id": "E1", "type": "Problem"}]}`,
			slowLoadPayload,
		},
	}
	r := NewRunner(NewRunnerParams{AI: client, MaxRetries: 3})
	s := newTestSession(t)

	if _, err := r.RunStage(context.Background(), s, 1, nil); err != nil {
		t.Fatalf("RunStage() error = %v", err)
	}
	if client.formatCalls != 2 {
		t.Fatalf("expected 2 extraction attempts, got %d", client.formatCalls)
	}
}

func TestRunner_PersistentMalformedPayload(t *testing.T) {
	client := &fakeAI{
		narrative: "text",
		payloads:  []string{`{"entities": [{"id": "E1", "type": "Problem"}]}`},
	}
	r := NewRunner(NewRunnerParams{AI: client, MaxRetries: 2})
	s := newTestSession(t)

	_, err := r.RunStage(context.Background(), s, 1, nil)
	if !errors.Is(err, extract.ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}
	if client.formatCalls != 2 {
		t.Fatalf("expected 2 extraction attempts, got %d", client.formatCalls)
	}
	if s.Graph.Stats().Entities != 0 {
		t.Fatal("graph changed by a malformed payload")
	}
	if _, ok := s.Record(1); ok {
		t.Fatal("record stored for a failed stage")
	}
}

func TestRunner_RunStageErrors(t *testing.T) {
	tests := []struct {
		name    string
		stage   int
		inputs  map[string]string
		wantErr error
	}{
		{name: "missing dependency", stage: 2, wantErr: ErrMissingDependency},
		{name: "unknown input", stage: 1, inputs: map[string]string{"budget": "1"}, wantErr: ErrInvalidInput},
		{name: "stage out of range", stage: 9, wantErr: graph.ErrInvalidStage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeAI{payloads: []string{slowLoadPayload}}
			r := NewRunner(NewRunnerParams{AI: client})
			_, err := r.RunStage(context.Background(), newTestSession(t), tt.stage, tt.inputs)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("RunStage() error = %v, want %v", err, tt.wantErr)
			}
			if len(client.prompts) != 0 {
				t.Fatal("model called for a rejected stage")
			}
		})
	}

	r := NewRunner(NewRunnerParams{})
	if _, err := r.RunStage(context.Background(), newTestSession(t), 1, nil); !errors.Is(err, ErrNoAIClient) {
		t.Fatalf("expected ErrNoAIClient, got %v", err)
	}
}

func TestRunner_SubmitPayload(t *testing.T) {
	failing := &recordingSink{name: "broken", err: errors.New("unreachable")}
	healthy := &recordingSink{name: "memory"}
	r := NewRunner(NewRunnerParams{Sinks: []store.Sink{failing, healthy}})
	s := newTestSession(t)

	output := "Q1: What hurts?\nA1: Slow Load Time."
	res, err := r.SubmitPayload(context.Background(), s, 1, output, []byte(slowLoadPayload))
	if err != nil {
		t.Fatalf("SubmitPayload() error = %v", err)
	}
	if res.SinkErrors["broken"] != "unreachable" || len(res.SinkErrors) != 1 {
		t.Fatalf("unexpected sink errors: %v", res.SinkErrors)
	}
	if s.Graph.Stats().Entities != 2 {
		t.Fatal("sink failure must not undo the merge")
	}
	if len(healthy.saved) != 1 {
		t.Fatal("healthy sink did not receive the artifact")
	}
	if len(res.QA) != 1 || res.QA[0].Question != "What hurts?" || !reflect.DeepEqual(res.QA[0].Entities, []string{"Slow Load Time"}) {
		t.Fatalf("unexpected q&a: %+v", res.QA)
	}

	if _, err := r.SubmitPayload(context.Background(), s, 2, "", []byte(`{"entities": 5}`)); !errors.Is(err, extract.ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}

	if _, err := r.SubmitPayload(context.Background(), s, 3, "", []byte(`{"entities": []}`)); err != nil {
		t.Fatalf("SubmitPayload() stage 3 error = %v", err)
	}
	if _, err := r.SubmitPayload(context.Background(), s, 2, "", []byte(`{"entities": []}`)); !errors.Is(err, graph.ErrStageOutOfOrder) {
		t.Fatalf("expected ErrStageOutOfOrder, got %v", err)
	}
}

func TestRunner_DeleteSession(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b", err: errors.New("down")}
	r := NewRunner(NewRunnerParams{Sinks: []store.Sink{a, b}})

	failed := r.DeleteSession(context.Background(), "s1")
	if !reflect.DeepEqual(a.deleted, []string{"s1"}) || !reflect.DeepEqual(b.deleted, []string{"s1"}) {
		t.Fatalf("sinks not notified: %v %v", a.deleted, b.deleted)
	}
	if failed["b"] != "down" || len(failed) != 1 {
		t.Fatalf("unexpected failures: %v", failed)
	}
}
