// Package consensus implements the multi-model deliberation core: a state
// machine driving rounds of propose/challenge/revise/commit across
// heterogeneous model providers, with convergence detection, a flat voting
// protocol, and task decomposition into a scheduled sub-task DAG.
package consensus

import "time"

// ConsensusState is one phase in a deliberation's lifecycle. Mirrors the
// router.ErrorClass string-const pattern: a small closed set of lowercase
// values, easy to log and compare.
type ConsensusState string

const (
	StateIdle      ConsensusState = "idle"
	StateDecompose ConsensusState = "decompose"
	StatePropose   ConsensusState = "propose"
	StateChallenge ConsensusState = "challenge"
	StateRevise    ConsensusState = "revise"
	StateCommit    ConsensusState = "commit"
	StateComplete  ConsensusState = "complete"
	StateFailed    ConsensusState = "failed"
)

// Framing is the adversarial lens assigned to a challenger.
type Framing string

const (
	FramingFlaw            Framing = "flaw"
	FramingAlternative     Framing = "alternative"
	FramingRisk            Framing = "risk"
	FramingDevilsAdvocate  Framing = "devils_advocate"
)

// FramingOrder is the fixed round-robin assignment order for challengers.
var FramingOrder = []Framing{FramingFlaw, FramingAlternative, FramingRisk, FramingDevilsAdvocate}

// ChallengeResult is an immutable record of one challenger's response.
// Fields are set once at construction; there are no exported setters.
type ChallengeResult struct {
	ModelRef    string
	Content     string
	Sycophantic bool
	Framing     Framing
}

// RoundResult is an immutable snapshot of one completed round, archived to
// DeliberationContext.RoundHistory on Commit.
type RoundResult struct {
	RoundNumber   int
	Proposal      string
	ProposalModel string
	Challenges    []ChallengeResult
	Revision      string
	Decision      string
	Confidence    float64
	Dissent       string // empty means no dissent
}

// Taxonomy is the optional decision classification produced by Commit when
// classify=true.
type Taxonomy struct {
	Intent   string // factual | judgment | creative | strategic | technical
	Category string
	Genus    string
}

// DeliberationContext is the mutable working state of one deliberation. It
// is owned by exactly one deliberation task tree and is never shared across
// concurrent deliberations — only the Provider Registry is shared mutable
// state (see registry.Registry).
type DeliberationContext struct {
	ThreadID  string
	Question  string
	MaxRounds int

	State        ConsensusState
	CurrentRound int

	Proposal      string
	ProposalModel string

	Challenges []ChallengeResult

	Revision      string
	RevisionModel string

	Decision   string
	Confidence float64
	Dissent    string
	Taxonomy   *Taxonomy

	Converged bool

	RoundHistory []RoundResult

	Subtasks []SubtaskSpec

	ToolCallsLog []ToolCallLogEntry

	Error string
}

// ToolCallLogEntry records one tool invocation made during a phase.
type ToolCallLogEntry struct {
	Phase     string
	Tool      string
	Arguments string
}

// NewDeliberationContext constructs a context in the Idle state.
func NewDeliberationContext(threadID, question string, maxRounds int) *DeliberationContext {
	return &DeliberationContext{
		ThreadID:  threadID,
		Question:  question,
		MaxRounds: maxRounds,
		State:     StateIdle,
	}
}

// clearRoundData resets per-round working fields. Called on Idle->Propose
// and Commit->Propose.
func (c *DeliberationContext) clearRoundData() {
	c.Proposal = ""
	c.ProposalModel = ""
	c.Challenges = nil
	c.Revision = ""
	c.RevisionModel = ""
	c.Decision = ""
	c.Confidence = 0
	c.Dissent = ""
	c.Taxonomy = nil
	c.Converged = false
}

// archiveRound appends the current round's working state to RoundHistory.
func (c *DeliberationContext) archiveRound() {
	c.RoundHistory = append(c.RoundHistory, RoundResult{
		RoundNumber:   c.CurrentRound,
		Proposal:      c.Proposal,
		ProposalModel: c.ProposalModel,
		Challenges:    append([]ChallengeResult(nil), c.Challenges...),
		Revision:      c.Revision,
		Decision:      c.Decision,
		Confidence:    c.Confidence,
		Dissent:       c.Dissent,
	})
}

// SubtaskSpec is an immutable node in a decomposition DAG.
type SubtaskSpec struct {
	Label        string
	Description  string
	Dependencies []string
}

// SubtaskResult is an immutable record of one sub-task's nested
// deliberation outcome.
type SubtaskResult struct {
	Label      string
	Decision   string
	Confidence float64
}

// SynthesisStrategy selects how Synthesis combines SubtaskResults.
type SynthesisStrategy string

const (
	SynthesisMerge      SynthesisStrategy = "merge"
	SynthesisPrioritize SynthesisStrategy = "prioritize"
)

// SynthesisResult is the final merged answer produced by C7.
type SynthesisResult struct {
	Content    string
	Confidence float64
	Strategy   SynthesisStrategy
}

// VoteResult is one model's answer in the voting protocol.
type VoteResult struct {
	ModelRef   string
	Content    string
	Confidence float64
}

// VotingAggregationStrategy selects how votes are combined when two or more
// succeed.
type VotingAggregationStrategy string

const (
	AggregationMajority VotingAggregationStrategy = "majority"
	AggregationWeighted VotingAggregationStrategy = "weighted"
)

// VotingAggregation is the outcome of a voting-protocol run.
type VotingAggregation struct {
	Votes      []VoteResult
	Decision   string
	Strategy   VotingAggregationStrategy
	Confidence float64
}

// TaskType classifies a question for protocol=auto routing.
type TaskType string

const (
	TaskReasoning TaskType = "reasoning"
	TaskJudgment  TaskType = "judgment"
	TaskUnknown   TaskType = "unknown"
)

// Usage records token consumption for one model call, used by the registry
// to accumulate cumulative cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is a single chat turn passed to a provider. Roles are system,
// user, or assistant; the core never issues tool-role messages directly.
type Message struct {
	Role    string
	Content string
}

// ToolCall is a single tool invocation requested by a model response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

// ModelResponse is what a Provider.Send call returns.
type ModelResponse struct {
	Content      string
	Usage        Usage
	FinishReason string
	ToolCalls    []ToolCall
	LatencyMs    float64
}

// ModelInfo describes one model served by a registered provider.
type ModelInfo struct {
	ProviderID     string
	ModelID        string
	InputCostPerMtok  float64
	OutputCostPerMtok float64
	ProposerEligible  bool
	MaxContextTokens  int
	Weight            int
}

// ModelRef returns the provider-qualified identifier "providerId:modelId".
func (m ModelInfo) ModelRef() string {
	return m.ProviderID + ":" + m.ModelID
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now
