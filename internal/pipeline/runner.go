package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/stagegraph/internal/session"
	"github.com/OFFIS-RIT/stagegraph/internal/util"
	"github.com/OFFIS-RIT/stagegraph/pkg/ai"
	"github.com/OFFIS-RIT/stagegraph/pkg/common"
	"github.com/OFFIS-RIT/stagegraph/pkg/export"
	"github.com/OFFIS-RIT/stagegraph/pkg/extract"
	"github.com/OFFIS-RIT/stagegraph/pkg/graph"
	"github.com/OFFIS-RIT/stagegraph/pkg/logger"
	"github.com/OFFIS-RIT/stagegraph/pkg/store"
	"github.com/OFFIS-RIT/stagegraph/pkg/summary"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrMissingDependency is returned when a stage needs the output of an
	// earlier stage that has not run yet.
	ErrMissingDependency = errors.New("stage dependency missing")
	// ErrNoAIClient is returned by RunStage when no generative backend is
	// configured. SubmitPayload still works.
	ErrNoAIClient = errors.New("no ai client configured")
)

// StageResult is what a stage run hands back to the caller.
type StageResult struct {
	Record     common.StageRecord `json:"record"`
	Report     graph.MergeReport  `json:"report"`
	QA         []summary.Pair     `json:"qa"`
	Graph      graph.Stats        `json:"graph"`
	SinkErrors map[string]string  `json:"sink_errors,omitempty"`
}

// Runner drives a session through its stages: prompt the model, extract
// the ontology payload, merge it and fan the result out to the sinks.
type Runner struct {
	ai         ai.StageAIClient
	catalog    *Catalog
	sinks      []store.Sink
	maxRetries int
	thinking   string
	now        func() time.Time
}

type NewRunnerParams struct {
	AI         ai.StageAIClient
	Catalog    *Catalog
	Sinks      []store.Sink
	MaxRetries int
	Thinking   string
}

func NewRunner(params NewRunnerParams) *Runner {
	catalog := params.Catalog
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Runner{
		ai:         params.AI,
		catalog:    catalog,
		sinks:      params.Sinks,
		maxRetries: maxRetries,
		thinking:   params.Thinking,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Catalog returns the stage definitions the runner uses.
func (r *Runner) Catalog() *Catalog {
	return r.catalog
}

// RunStage generates the output of a stage from the user inputs and the
// outputs of the stages it depends on, then extracts and merges its
// ontology payload.
//
// A malformed payload is asked for again up to MaxRetries times; when it
// stays malformed the error wraps extract.ErrMalformedExtraction and the
// graph is untouched.
func (r *Runner) RunStage(
	ctx context.Context,
	s *session.Session,
	stage int,
	inputs map[string]string,
) (StageResult, error) {
	if r.ai == nil {
		return StageResult{}, ErrNoAIClient
	}
	def, ok := r.catalog.Stage(stage)
	if !ok {
		return StageResult{}, fmt.Errorf("%w: %d", graph.ErrInvalidStage, stage)
	}

	outputs, err := dependencies(s, def)
	if err != nil {
		return StageResult{}, err
	}
	prompt, err := r.catalog.Render(stage, inputs, outputs)
	if err != nil {
		return StageResult{}, err
	}

	logger.Info("[Pipeline] running stage", "session", s.ID, "stage", stage, "title", def.Title)

	output, err := r.ai.GenerateCompletion(ctx, prompt, r.options(ai.StageSystemPrompt)...)
	if err != nil {
		return StageResult{}, fmt.Errorf("failed to generate stage %d output: %w", stage, err)
	}

	set, err := util.RetryIf(ctx, r.maxRetries, isMalformed, func(ctx context.Context) (*common.CandidateSet, error) {
		return r.extract(ctx, def, output)
	})
	if err != nil {
		return StageResult{}, err
	}

	usage := r.ai.GetMetrics()
	logger.Debug("[Pipeline] model usage",
		"stage", stage,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"tokens_per_second", usage.TokenPerSecond,
	)

	return r.commit(ctx, s, def, encodeInputs(inputs), output, set)
}

// SubmitPayload merges a ready-made ontology payload for a stage, bypassing
// the model. output is the stage text, used for the record and Q&A.
func (r *Runner) SubmitPayload(
	ctx context.Context,
	s *session.Session,
	stage int,
	output string,
	payload []byte,
) (StageResult, error) {
	def, ok := r.catalog.Stage(stage)
	if !ok {
		return StageResult{}, fmt.Errorf("%w: %d", graph.ErrInvalidStage, stage)
	}
	set, err := extract.Normalize(stage, payload)
	if err != nil {
		return StageResult{}, err
	}
	return r.commit(ctx, s, def, "", output, set)
}

func dependencies(s *session.Session, def StageDef) (map[int]string, error) {
	outputs := make(map[int]string, len(def.DependsOn))
	var missing []string
	for _, dep := range def.DependsOn {
		rec, ok := s.Record(dep)
		if !ok {
			missing = append(missing, fmt.Sprint(dep))
			continue
		}
		outputs[dep] = rec.Output
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: stage %d needs stage %s", ErrMissingDependency, def.Stage, strings.Join(missing, ", "))
	}
	return outputs, nil
}

func (r *Runner) options(system string) []ai.GenerateOption {
	opts := []ai.GenerateOption{ai.WithSystemPrompts(system)}
	if r.thinking != "" {
		opts = append(opts, ai.WithThinking(r.thinking))
	}
	return opts
}

func (r *Runner) extract(ctx context.Context, def StageDef, output string) (*common.CandidateSet, error) {
	var resp extract.Response
	err := r.ai.GenerateCompletionWithFormat(
		ctx,
		"stage_ontology",
		"Entities and relations stated in one stage of a problem-solving process",
		fmt.Sprintf(ai.OntologyPrompt, def.Stage, def.Title, output),
		&resp,
		r.thinkingOption()...,
	)
	if err != nil {
		if errors.Is(err, ai.ErrInvalidJSON) {
			logger.Warn("[Pipeline] unparsable ontology payload", "stage", def.Stage, "err", err)
			return nil, fmt.Errorf("%w: %v", extract.ErrMalformedExtraction, err)
		}
		return nil, fmt.Errorf("failed to extract stage %d ontology: %w", def.Stage, err)
	}

	set, err := extract.NormalizePayload(def.Stage, resp)
	if err != nil {
		logger.Warn("[Pipeline] invalid ontology payload", "stage", def.Stage, "err", err)
		return nil, err
	}
	return set, nil
}

func (r *Runner) thinkingOption() []ai.GenerateOption {
	if r.thinking == "" {
		return nil
	}
	return []ai.GenerateOption{ai.WithThinking(r.thinking)}
}

func isMalformed(err error) bool {
	return errors.Is(err, extract.ErrMalformedExtraction)
}

// commit merges the candidates and, once the merge stands, records the
// stage, summarizes it and notifies the sinks.
func (r *Runner) commit(
	ctx context.Context,
	s *session.Session,
	def StageDef,
	input string,
	output string,
	set *common.CandidateSet,
) (StageResult, error) {
	logger.Debug("[Pipeline] candidates", "stage", def.Stage, "set", extract.Describe(set))

	report, err := s.Graph.Merge(def.Stage, set)
	if err != nil {
		return StageResult{}, err
	}

	rec := common.StageRecord{
		Stage:      def.Stage,
		Title:      def.Title,
		Input:      input,
		Output:     output,
		Candidates: set,
		CreatedAt:  r.now(),
	}
	qa := r.summarize(ctx, s, def.Stage, output)
	s.SetRecord(rec, qa)

	result := StageResult{
		Record: rec,
		Report: report,
		QA:     qa,
		Graph:  s.Graph.Stats(),
	}
	result.SinkErrors = r.fanOut(ctx, s, result)

	logger.Info(
		"[Pipeline] stage complete",
		"session", s.ID,
		"stage", def.Stage,
		"new_entities", report.NewEntities,
		"new_relations", report.NewRelations,
		"qa", len(qa),
	)
	return result, nil
}

// summarize turns the stage output into Q&A pairs grounded on the entities
// the stage introduced. Without a model, or when the model fails, the pairs
// are parsed from the output itself.
func (r *Runner) summarize(ctx context.Context, s *session.Session, stage int, output string) []summary.Pair {
	text := output
	if r.ai != nil && strings.TrimSpace(output) != "" {
		reply, err := r.ai.GenerateCompletion(ctx, fmt.Sprintf(ai.QAPrompt, output), r.thinkingOption()...)
		if err != nil {
			logger.Warn("[Pipeline] q&a extraction failed, using stage output", "stage", stage, "err", err)
		} else {
			text = reply
		}
	}
	introduced := s.Graph.Query(graph.Filter{IntroducedInStage: stage})
	return summary.Ground(summary.ParseQA(text), introduced.Entities)
}

// fanOut hands the artifact to every sink concurrently. Sink failures are
// logged and returned by sink name; they never undo the merge.
func (r *Runner) fanOut(ctx context.Context, s *session.Session, result StageResult) map[string]string {
	if len(r.sinks) == 0 {
		return nil
	}

	snap := s.Graph.Snapshot()
	artifact := store.StageArtifact{
		SessionID:   s.ID,
		OwnerID:     s.OwnerID,
		Record:      result.Record,
		Report:      result.Report,
		QA:          result.QA,
		Turtle:      export.ToTurtle(snap),
		StageTurtle: export.StageTurtle(snap, result.Record.Stage),
		Layout:      export.ToLayout(snap),
		Stats:       result.Graph,
		CompletedAt: result.Record.CreatedAt,
	}

	var (
		mu     sync.Mutex
		failed map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.SaveStage(gctx, artifact); err != nil {
				logger.Warn("[Pipeline] sink failed", "sink", sink.Name(), "session", s.ID, "stage", artifact.Record.Stage, "err", err)
				mu.Lock()
				if failed == nil {
					failed = make(map[string]string)
				}
				failed[sink.Name()] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// DeleteSession tells every sink to forget the session. Failures are
// logged and returned by sink name.
func (r *Runner) DeleteSession(ctx context.Context, sessionID string) map[string]string {
	var (
		mu     sync.Mutex
		failed map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range r.sinks {
		g.Go(func() error {
			if err := sink.DeleteSession(gctx, sessionID); err != nil {
				logger.Warn("[Pipeline] sink cleanup failed", "sink", sink.Name(), "session", sessionID, "err", err)
				mu.Lock()
				if failed == nil {
					failed = make(map[string]string)
				}
				failed[sink.Name()] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// encodeInputs renders the user inputs as a JSON object.
func encodeInputs(inputs map[string]string) string {
	if len(inputs) == 0 {
		return ""
	}
	b, err := json.Marshal(inputs)
	if err != nil {
		return ""
	}
	return string(b)
}
