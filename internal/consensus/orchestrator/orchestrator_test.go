package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
	"github.com/jordanhubbard/duh/internal/consensus/store"
	"github.com/jordanhubbard/duh/internal/metrics"
)

type scriptedProvider struct {
	id      string
	models  []consensus.ModelInfo
	replies []string

	mu   sync.Mutex
	call int
}

func (p *scriptedProvider) ID() string                          { return p.id }
func (p *scriptedProvider) ListModels() []consensus.ModelInfo    { return p.models }
func (p *scriptedProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *scriptedProvider) Send(ctx context.Context, modelID string, messages []consensus.Message, maxTokens int, temperature float64, responseFormat string) (consensus.ModelResponse, error) {
	p.mu.Lock()
	reply := "no more scripted replies"
	if p.call < len(p.replies) {
		reply = p.replies[p.call]
	}
	p.call++
	p.mu.Unlock()
	return consensus.ModelResponse{Content: reply, Usage: consensus.Usage{InputTokens: 10, OutputTokens: 10}}, nil
}

func newTestOrchestrator(t *testing.T, replies []string) *Orchestrator {
	t.Helper()
	p := &scriptedProvider{
		id: "anthropic",
		models: []consensus.ModelInfo{
			{ProviderID: "anthropic", ModelID: "opus", InputCostPerMtok: 15, OutputCostPerMtok: 75, ProposerEligible: true},
			{ProviderID: "anthropic", ModelID: "haiku", InputCostPerMtok: 1, OutputCostPerMtok: 5, ProposerEligible: true},
		},
		replies: replies,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	return New(reg, nil)
}

func TestRunConsensusCompletesAtMaxRoundsWithoutConvergence(t *testing.T) {
	// propose, challenge x2, revise per round; round 1 and round 2 differ
	// so convergence never triggers, and completion happens at max rounds.
	replies := []string{
		"Proposal round 1", "Challenge A round 1", "Challenge B round 1", "Revision round 1",
		"Proposal round 2", "Challenge A round 2", "Challenge B round 2", "Revision round 2",
	}
	o := newTestOrchestrator(t, replies)
	cfg := DefaultConfig()
	cfg.MaxRounds = 2

	outcome, err := o.RunConsensus(context.Background(), "t1", "What should we build?", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Decision != "Revision round 2" {
		t.Fatalf("expected final revision as decision, got %q", outcome.Decision)
	}
}

func TestRunVotingDegenerateSingleModel(t *testing.T) {
	o := newTestOrchestrator(t, []string{"the only vote"})
	agg, err := o.RunVoting(context.Background(), "Q?", []string{"anthropic:opus"}, consensus.AggregationMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != 1.0 || agg.Decision != "the only vote" {
		t.Fatalf("unexpected aggregation: %+v", agg)
	}
}

func TestRunDecomposeSingleSubtaskSkipsScheduler(t *testing.T) {
	replies := []string{
		`{"subtasks":[{"label":"only","description":"do everything","dependencies":[]}]}`,
		"Proposal", "Challenge A", "Challenge B", "Revision",
	}
	o := newTestOrchestrator(t, replies)
	cfg := DefaultConfig()
	cfg.MaxRounds = 1

	outcome, err := o.RunDecompose(context.Background(), "t1", "Do a complex thing", cfg, consensus.SynthesisMerge)
	if err != nil {
		t.Fatal(err)
	}
	if len(outcome.SubtaskResults) != 1 {
		t.Fatalf("expected 1 subtask result, got %d", len(outcome.SubtaskResults))
	}
	if outcome.Synthesis.Content != "Revision" {
		t.Fatalf("expected single-subtask passthrough, got %q", outcome.Synthesis.Content)
	}
}

func TestRunConsensusPersistsToRepository(t *testing.T) {
	replies := []string{"Proposal", "Challenge A", "Challenge B", "Revision"}
	p := &scriptedProvider{
		id: "anthropic",
		models: []consensus.ModelInfo{
			{ProviderID: "anthropic", ModelID: "opus", InputCostPerMtok: 15, OutputCostPerMtok: 75, ProposerEligible: true},
			{ProviderID: "anthropic", ModelID: "haiku", InputCostPerMtok: 1, OutputCostPerMtok: 5, ProposerEligible: true},
		},
		replies: replies,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	mem := store.NewMemory()
	o := New(reg, nil, WithRepository(mem))

	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	outcome, err := o.RunConsensus(context.Background(), "t1", "What should we build?", cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	saved := mem.Deliberations()
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved deliberation, got %d", len(saved))
	}
	if saved[0].ThreadSummary != outcome.Decision {
		t.Fatalf("expected persisted summary to match outcome decision, got %q vs %q", saved[0].ThreadSummary, outcome.Decision)
	}
	if outcome.TotalCostUSD <= 0 {
		t.Fatalf("expected nonzero total cost, got %v", outcome.TotalCostUSD)
	}
}

func TestRunConsensusRecordsMetrics(t *testing.T) {
	replies := []string{"Proposal", "Challenge A", "Challenge B", "Revision"}
	p := &scriptedProvider{
		id: "anthropic",
		models: []consensus.ModelInfo{
			{ProviderID: "anthropic", ModelID: "opus", InputCostPerMtok: 15, OutputCostPerMtok: 75, ProposerEligible: true},
			{ProviderID: "anthropic", ModelID: "haiku", InputCostPerMtok: 1, OutputCostPerMtok: 5, ProposerEligible: true},
		},
		replies: replies,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	o := New(reg, nil, WithMetrics(m))

	cfg := DefaultConfig()
	cfg.MaxRounds = 1
	if _, err := o.RunConsensus(context.Background(), "t1", "What should we build?", cfg, nil); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.ConsensusRoundsTotal.WithLabelValues("max_rounds")); got != 1 {
		t.Fatalf("expected 1 max_rounds completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.ConsensusConvergenceTotal.WithLabelValues("false")); got != 1 {
		t.Fatalf("expected 1 non-converged round, got %v", got)
	}
}

func TestClassifyTaskTypeBestEffort(t *testing.T) {
	o := newTestOrchestrator(t, []string{`{"task_type":"reasoning"}`})
	got := o.ClassifyTaskType(context.Background(), "What's the time complexity?")
	if got != consensus.TaskReasoning {
		t.Fatalf("expected reasoning, got %s", got)
	}
}
