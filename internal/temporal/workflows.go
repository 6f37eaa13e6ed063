package temporal

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// activityTimeout bounds a single deliberation activity. Consensus rounds
// and decompositions fan out several model calls each, so this is generous
// compared to a single HTTP round trip.
const activityTimeout = 5 * time.Minute

var retryOnce = &temporal.RetryPolicy{MaximumAttempts: 1} // activities handle their own provider-level retries

// ConsensusWorkflow is the Temporal entry point for a deliberation. It
// dispatches to the consensus, voting, or decompose protocol based on
// Cfg.Protocol, mirroring the mode-switch shape the flat router's
// OrchestrationWorkflow used before the consensus rewrite.
func ConsensusWorkflow(ctx workflow.Context, input ConsensusWorkflowInput) (ConsensusOutput, error) {
	switch input.Cfg.Protocol {
	case "voting":
		out, err := voteWorkflow(ctx, VotingInput{
			Question:    input.Question,
			ModelRefs:   input.Panel,
			Aggregation: input.Cfg.VotingAggregation,
		})
		return ConsensusOutput{Decision: out.Decision, Confidence: out.Confidence, Error: out.Error}, err
	case "decompose":
		out, err := refineWorkflow(ctx, DecomposeInput{
			ThreadID: input.ThreadID,
			Question: input.Question,
			Cfg:      input.Cfg,
		})
		return ConsensusOutput{
			Decision:     out.Content,
			Confidence:   out.Confidence,
			TotalCostUSD: out.TotalCostUSD,
			Error:        out.Error,
		}, err
	default:
		return adversarialWorkflow(ctx, ConsensusInput{
			ThreadID: input.ThreadID,
			Question: input.Question,
			Cfg:      input.Cfg,
			Panel:    input.Panel,
		})
	}
}

// adversarialWorkflow runs the full propose/challenge/revise/commit protocol
// as a single RunConsensus activity.
func adversarialWorkflow(ctx workflow.Context, input ConsensusInput) (ConsensusOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy:         retryOnce,
	})
	var out ConsensusOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).RunConsensus, input).Get(ctx, &out)
	if err != nil {
		return ConsensusOutput{Error: err.Error()}, err
	}
	return out, nil
}

// voteWorkflow runs the flat voting protocol as a single RunVoting activity.
func voteWorkflow(ctx workflow.Context, input VotingInput) (VotingOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy:         retryOnce,
	})
	var out VotingOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).RunVoting, input).Get(ctx, &out)
	if err != nil {
		return VotingOutput{Error: err.Error()}, err
	}
	return out, nil
}

// refineWorkflow runs decomposition, scheduled sub-task deliberation, and
// synthesis as a single RunDecompose activity.
func refineWorkflow(ctx workflow.Context, input DecomposeInput) (DecomposeOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: activityTimeout,
		RetryPolicy:         retryOnce,
	})
	var out DecomposeOutput
	err := workflow.ExecuteActivity(ctx, (*Activities).RunDecompose, input).Get(ctx, &out)
	if err != nil {
		return DecomposeOutput{Error: err.Error()}, err
	}
	return out, nil
}
