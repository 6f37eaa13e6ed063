package temporal

import (
	"context"

	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/orchestrator"
)

// Activities wraps an Orchestrator so its three protocol entry points can
// run as Temporal activities. The deliberation itself — every provider
// call, retry, and fan-out — is non-deterministic, so the whole call is one
// activity; only the ConsensusWorkflow/adversarialWorkflow/voteWorkflow/
// refineWorkflow layer above it is workflow code subject to Temporal's
// determinism constraints.
type Activities struct {
	Orchestrator *orchestrator.Orchestrator
}

// RunConsensus executes a full propose/challenge/revise/commit deliberation.
func (a *Activities) RunConsensus(ctx context.Context, in ConsensusInput) (ConsensusOutput, error) {
	outcome, err := a.Orchestrator.RunConsensus(ctx, in.ThreadID, in.Question, in.Cfg, in.Panel)
	if err != nil {
		return ConsensusOutput{Error: err.Error()}, err
	}
	return ConsensusOutput{
		Decision:     outcome.Decision,
		Confidence:   outcome.Confidence,
		Dissent:      outcome.Dissent,
		Taxonomy:     outcome.Taxonomy,
		TotalCostUSD: outcome.TotalCostUSD,
	}, nil
}

// RunVoting executes the flat voting protocol across the given model refs.
func (a *Activities) RunVoting(ctx context.Context, in VotingInput) (VotingOutput, error) {
	agg, err := a.Orchestrator.RunVoting(ctx, in.Question, in.ModelRefs, in.Aggregation)
	if err != nil {
		return VotingOutput{Error: err.Error()}, err
	}
	return VotingOutput{
		Votes:      agg.Votes,
		Decision:   agg.Decision,
		Confidence: agg.Confidence,
	}, nil
}

// RunDecompose executes decomposition, scheduled sub-task deliberation, and
// synthesis.
func (a *Activities) RunDecompose(ctx context.Context, in DecomposeInput) (DecomposeOutput, error) {
	strategy := in.Strategy
	if strategy == "" {
		strategy = consensus.SynthesisMerge
	}
	outcome, err := a.Orchestrator.RunDecompose(ctx, in.ThreadID, in.Question, in.Cfg, strategy)
	if err != nil {
		return DecomposeOutput{Error: err.Error()}, err
	}
	return DecomposeOutput{
		Content:        outcome.Synthesis.Content,
		Confidence:     outcome.Synthesis.Confidence,
		SubtaskResults: outcome.SubtaskResults,
		TotalCostUSD:   outcome.TotalCostUSD,
	}, nil
}
