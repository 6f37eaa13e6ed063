package voting

import (
	"context"
	"testing"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/registry"
)

type fakeProvider struct {
	id        string
	models    []consensus.ModelInfo
	responses map[string]string
	fail      map[string]bool
}

func (p *fakeProvider) ID() string                          { return p.id }
func (p *fakeProvider) ListModels() []consensus.ModelInfo    { return p.models }
func (p *fakeProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *fakeProvider) Send(ctx context.Context, modelID string, messages []consensus.Message, maxTokens int, temperature float64, responseFormat string) (consensus.ModelResponse, error) {
	if p.fail[modelID] {
		return consensus.ModelResponse{}, &consensus.ProviderError{ProviderID: p.id, Class: consensus.ProviderErrTimeout}
	}
	return consensus.ModelResponse{Content: p.responses[modelID], Usage: consensus.Usage{InputTokens: 10, OutputTokens: 10}}, nil
}

func setupRegistry(t *testing.T, responses map[string]string, fail map[string]bool) *registry.Registry {
	t.Helper()
	p := &fakeProvider{
		id: "anthropic",
		models: []consensus.ModelInfo{
			{ProviderID: "anthropic", ModelID: "opus", OutputCostPerMtok: 75},
			{ProviderID: "anthropic", ModelID: "haiku", OutputCostPerMtok: 5},
		},
		responses: responses,
		fail:      fail,
	}
	reg := registry.New()
	if err := reg.Register(p, 0); err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestRunZeroVotesYieldsEmptyAggregationAtZeroConfidence(t *testing.T) {
	reg := setupRegistry(t, nil, map[string]bool{"opus": true, "haiku": true})
	agg, err := Run(context.Background(), reg, "Q?", []string{"anthropic:opus", "anthropic:haiku"}, consensus.AggregationMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != 0 || agg.Decision != "" || len(agg.Votes) != 0 {
		t.Fatalf("expected empty aggregation, got %+v", agg)
	}
}

func TestRunSingleVotePassesThroughAtFullConfidence(t *testing.T) {
	reg := setupRegistry(t, map[string]string{"opus": "the answer"}, map[string]bool{"haiku": true})
	agg, err := Run(context.Background(), reg, "Q?", []string{"anthropic:opus", "anthropic:haiku"}, consensus.AggregationMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0, got %v", agg.Confidence)
	}
	if agg.Decision != "the answer" {
		t.Fatalf("expected direct passthrough, got %q", agg.Decision)
	}
	if len(agg.Votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(agg.Votes))
	}
}

func TestRunMajorityAggregationFixedConfidence(t *testing.T) {
	reg := setupRegistry(t, map[string]string{"opus": "2", "haiku": "pick 1"}, nil)
	// judge is the highest-cost model (opus); its reply "2" selects haiku's vote.
	agg, err := Run(context.Background(), reg, "Q?", []string{"anthropic:opus", "anthropic:haiku"}, consensus.AggregationMajority)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != majorityConfidence {
		t.Fatalf("expected fixed majority confidence %v, got %v", majorityConfidence, agg.Confidence)
	}
	if len(agg.Votes) != 2 {
		t.Fatalf("expected 2 votes, got %d", len(agg.Votes))
	}
}

func TestRunWeightedAggregationFixedConfidence(t *testing.T) {
	reg := setupRegistry(t, map[string]string{"opus": "merged answer", "haiku": "vote b"}, nil)
	agg, err := Run(context.Background(), reg, "Q?", []string{"anthropic:opus", "anthropic:haiku"}, consensus.AggregationWeighted)
	if err != nil {
		t.Fatal(err)
	}
	if agg.Confidence != weightedConfidence {
		t.Fatalf("expected fixed weighted confidence %v, got %v", weightedConfidence, agg.Confidence)
	}
	if agg.Decision != "merged answer" {
		t.Fatalf("expected judge synthesis as decision, got %q", agg.Decision)
	}
}

func TestResolveMajoritySelectionFallsBackOnBadIndex(t *testing.T) {
	votes := []consensus.VoteResult{{Content: "a"}, {Content: "b"}}
	if got := resolveMajoritySelection("not a number", votes); got != "not a number" {
		t.Fatalf("expected raw fallback, got %q", got)
	}
	if got := resolveMajoritySelection("5", votes); got != "5" {
		t.Fatalf("expected raw fallback for out-of-range index, got %q", got)
	}
	if got := resolveMajoritySelection(" 2 ", votes); got != "b" {
		t.Fatalf("expected second vote, got %q", got)
	}
}
