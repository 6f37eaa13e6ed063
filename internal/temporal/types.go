package temporal

import (
	"github.com/jordanhubbard/duh/internal/consensus"
	"github.com/jordanhubbard/duh/internal/consensus/orchestrator"
)

// ConsensusWorkflowInput is the entry point input for ConsensusWorkflow,
// which dispatches to the consensus, voting, or decompose protocol based on
// Cfg.Protocol — the Temporal-level analogue of orchestrator.Config.Protocol
// routing used directly by non-durable callers.
type ConsensusWorkflowInput struct {
	ThreadID string              `json:"thread_id"`
	Question string              `json:"question"`
	Cfg      orchestrator.Config `json:"cfg"`
	Panel    []string            `json:"panel"` // consensus panel, or voting candidates
}

// ConsensusInput is the input for adversarialWorkflow and its RunConsensus activity.
type ConsensusInput struct {
	ThreadID string              `json:"thread_id"`
	Question string              `json:"question"`
	Cfg      orchestrator.Config `json:"cfg"`
	Panel    []string            `json:"panel"`
}

// ConsensusOutput is the output of adversarialWorkflow and ConsensusWorkflow.
type ConsensusOutput struct {
	Decision     string             `json:"decision"`
	Confidence   float64            `json:"confidence"`
	Dissent      string             `json:"dissent,omitempty"`
	Taxonomy     consensus.Taxonomy `json:"taxonomy,omitempty"`
	TotalCostUSD float64            `json:"total_cost_usd"`
	Error        string             `json:"error,omitempty"`
}

// VotingInput is the input for voteWorkflow and its RunVoting activity.
type VotingInput struct {
	Question    string                               `json:"question"`
	ModelRefs   []string                              `json:"model_refs"`
	Aggregation consensus.VotingAggregationStrategy   `json:"aggregation"`
}

// VotingOutput is the output of voteWorkflow.
type VotingOutput struct {
	Votes      []consensus.VoteResult `json:"votes"`
	Decision   string                 `json:"decision"`
	Confidence float64                `json:"confidence"`
	Error      string                 `json:"error,omitempty"`
}

// DecomposeInput is the input for refineWorkflow and its RunDecompose activity.
type DecomposeInput struct {
	ThreadID string                     `json:"thread_id"`
	Question string                     `json:"question"`
	Cfg      orchestrator.Config        `json:"cfg"`
	Strategy consensus.SynthesisStrategy `json:"strategy"`
}

// DecomposeOutput is the output of refineWorkflow.
type DecomposeOutput struct {
	Content        string                    `json:"content"`
	Confidence     float64                   `json:"confidence"`
	SubtaskResults []consensus.SubtaskResult `json:"subtask_results"`
	TotalCostUSD   float64                   `json:"total_cost_usd"`
	Error          string                    `json:"error,omitempty"`
}
